package casprotocol

import (
	"encoding/xml"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// SAML 1.1 常量
const (
	samlProtocolNS        = "urn:oasis:names:tc:SAML:1.0:protocol"
	samlAssertionNS       = "urn:oasis:names:tc:SAML:1.0:assertion"
	samlSOAPEnvelopeNS    = "http://schemas.xmlsoap.org/soap/envelope/"
	samlArtifactMethod    = "urn:oasis:names:tc:SAML:1.0:cm:artifact"
	samlUnspecifiedMethod = "urn:oasis:names:tc:SAML:1.0:am:unspecified"
	samlAttrNamespace     = "http://www.ja-sig.org/products/cas/"
)

// SamlEnvelope SOAP 信封
type SamlEnvelope struct {
	XMLName xml.Name `xml:"SOAP-ENV:Envelope"`
	Xmlns   string   `xml:"xmlns:SOAP-ENV,attr"`
	Body    SamlBody
}

// SamlBody SOAP Body
type SamlBody struct {
	XMLName  xml.Name `xml:"SOAP-ENV:Body"`
	Response SamlResponse
}

// SamlResponse SAML 1.1 响应
type SamlResponse struct {
	XMLName      xml.Name       `xml:"saml1p:Response"`
	Xmlns        string         `xml:"xmlns:saml1p,attr"`
	ResponseID   string         `xml:"ResponseID,attr"`
	IssueInstant string         `xml:"IssueInstant,attr"`
	MajorVersion int            `xml:"MajorVersion,attr"`
	MinorVersion int            `xml:"MinorVersion,attr"`
	Status       SamlStatus     `xml:"saml1p:Status"`
	Assertion    *SamlAssertion `xml:",omitempty"`
}

// SamlStatus 状态块
type SamlStatus struct {
	StatusCode    SamlStatusCode `xml:"saml1p:StatusCode"`
	StatusMessage string         `xml:"saml1p:StatusMessage,omitempty"`
}

// SamlStatusCode 状态码
type SamlStatusCode struct {
	Value string `xml:"Value,attr"`
}

// SamlAssertion 断言
type SamlAssertion struct {
	XMLName        xml.Name                 `xml:"saml1:Assertion"`
	Xmlns          string                   `xml:"xmlns:saml1,attr"`
	AssertionID    string                   `xml:"AssertionID,attr"`
	Issuer         string                   `xml:"Issuer,attr"`
	IssueInstant   string                   `xml:"IssueInstant,attr"`
	MajorVersion   int                      `xml:"MajorVersion,attr"`
	MinorVersion   int                      `xml:"MinorVersion,attr"`
	Conditions     SamlConditions          `xml:"saml1:Conditions"`
	AttrStatement  *SamlAttributeStatement `xml:",omitempty"`
	AuthnStatement SamlAuthnStatement      `xml:"saml1:AuthenticationStatement"`
}

// SamlConditions 有效期与受众限制
type SamlConditions struct {
	NotBefore    string       `xml:"NotBefore,attr"`
	NotOnOrAfter string       `xml:"NotOnOrAfter,attr"`
	Audience     SamlAudience `xml:"saml1:AudienceRestrictionCondition"`
}

// SamlAudience 受众
type SamlAudience struct {
	Audience string `xml:"saml1:Audience"`
}

// SamlAuthnStatement 认证声明
type SamlAuthnStatement struct {
	AuthenticationInstant string      `xml:"AuthenticationInstant,attr"`
	AuthenticationMethod  string      `xml:"AuthenticationMethod,attr"`
	Subject               SamlSubject `xml:"saml1:Subject"`
}

// SamlSubject 主体
type SamlSubject struct {
	NameIdentifier      string                  `xml:"saml1:NameIdentifier"`
	SubjectConfirmation SamlSubjectConfirmation `xml:"saml1:SubjectConfirmation"`
}

// SamlSubjectConfirmation 主体确认方式
type SamlSubjectConfirmation struct {
	ConfirmationMethod string `xml:"saml1:ConfirmationMethod"`
}

// SamlAttributeStatement 属性声明
type SamlAttributeStatement struct {
	XMLName    xml.Name        `xml:"saml1:AttributeStatement"`
	Subject    SamlSubject     `xml:"saml1:Subject"`
	Attributes []SamlAttribute `xml:"saml1:Attribute"`
}

// SamlAttribute 单个属性，多值时重复 AttributeValue
type SamlAttribute struct {
	Name      string   `xml:"AttributeName,attr"`
	Namespace string   `xml:"AttributeNamespace,attr"`
	Values    []string `xml:"saml1:AttributeValue"`
}

const samlInstantFormat = "2006-01-02T15:04:05Z"

// SamlSuccessResponse 构造 SAML 校验成功响应
func SamlSuccessResponse(user string, attrs map[string][]string, service, issuer string, validity time.Duration) []byte {
	now := time.Now().UTC()
	subject := SamlSubject{
		NameIdentifier: user,
		SubjectConfirmation: SamlSubjectConfirmation{
			ConfirmationMethod: samlArtifactMethod,
		},
	}

	assertion := &SamlAssertion{
		Xmlns:        samlAssertionNS,
		AssertionID:  "_" + uuid.New().String(),
		Issuer:       issuer,
		IssueInstant: now.Format(samlInstantFormat),
		MajorVersion: 1,
		MinorVersion: 1,
		Conditions: SamlConditions{
			NotBefore:    now.Format(samlInstantFormat),
			NotOnOrAfter: now.Add(validity).Format(samlInstantFormat),
			Audience:     SamlAudience{Audience: service},
		},
		AuthnStatement: SamlAuthnStatement{
			AuthenticationInstant: now.Format(samlInstantFormat),
			AuthenticationMethod:  samlUnspecifiedMethod,
			Subject:               subject,
		},
	}

	if len(attrs) > 0 {
		keys := make([]string, 0, len(attrs))
		for k := range attrs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		stmt := &SamlAttributeStatement{Subject: subject}
		for _, k := range keys {
			stmt.Attributes = append(stmt.Attributes, SamlAttribute{
				Name:      k,
				Namespace: samlAttrNamespace,
				Values:    attrs[k],
			})
		}
		assertion.AttrStatement = stmt
	}

	envelope := SamlEnvelope{
		Xmlns: samlSOAPEnvelopeNS,
		Body: SamlBody{
			Response: SamlResponse{
				Xmlns:        samlProtocolNS,
				ResponseID:   "_" + uuid.New().String(),
				IssueInstant: now.Format(samlInstantFormat),
				MajorVersion: 1,
				MinorVersion: 1,
				Status: SamlStatus{
					StatusCode: SamlStatusCode{Value: "saml1p:Success"},
				},
				Assertion: assertion,
			},
		},
	}
	return samlMarshal(envelope)
}

// SamlFailureResponse 构造 SAML 校验失败响应
func SamlFailureResponse(message string) []byte {
	now := time.Now().UTC()
	envelope := SamlEnvelope{
		Xmlns: samlSOAPEnvelopeNS,
		Body: SamlBody{
			Response: SamlResponse{
				Xmlns:        samlProtocolNS,
				ResponseID:   "_" + uuid.New().String(),
				IssueInstant: now.Format(samlInstantFormat),
				MajorVersion: 1,
				MinorVersion: 1,
				Status: SamlStatus{
					StatusCode:    SamlStatusCode{Value: "saml1p:RequestDenied"},
					StatusMessage: message,
				},
			},
		},
	}
	return samlMarshal(envelope)
}

func samlMarshal(v interface{}) []byte {
	data, err := xml.Marshal(v)
	if err != nil {
		return []byte(fmt.Sprintf(
			`<SOAP-ENV:Envelope xmlns:SOAP-ENV=%q><SOAP-ENV:Body></SOAP-ENV:Body></SOAP-ENV:Envelope>`,
			samlSOAPEnvelopeNS))
	}
	return append([]byte(xml.Header), data...)
}

// ParseSamlArtifact 从 SAML 请求体中取出 AssertionArtifact（即票据）
func ParseSamlArtifact(body []byte) (string, error) {
	var req struct {
		XMLName xml.Name
		Body    struct {
			Request struct {
				AssertionArtifact string `xml:"AssertionArtifact"`
			} `xml:"Request"`
		} `xml:"Body"`
	}
	if err := xml.Unmarshal(body, &req); err != nil {
		return "", err
	}
	if req.Body.Request.AssertionArtifact == "" {
		return "", fmt.Errorf("SAML 请求缺少 AssertionArtifact")
	}
	return req.Body.Request.AssertionArtifact, nil
}
