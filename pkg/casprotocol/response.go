// Package casprotocol CAS 协议响应构造
// 覆盖 CAS 2.0/3.0 XML 片段与 SAML 1.1 响应两种线格式，
// 所有用户可控文本经 encoding/xml 转义，保证输出恒为合法 XML
package casprotocol

import (
	"encoding/xml"
	"fmt"
	"sort"
)

// CAS 协议错误码
const (
	CodeInvalidRequest       = "INVALID_REQUEST"
	CodeInvalidTicketSpec    = "INVALID_TICKET_SPEC"
	CodeInvalidTicket        = "INVALID_TICKET"
	CodeInvalidService       = "INVALID_SERVICE"
	CodeInvalidProxyCallback = "INVALID_PROXY_CALLBACK"
	CodeBadPGT               = "BAD_PGT"
	CodeInternalError        = "INTERNAL_ERROR"
)

const casNamespace = "http://www.yale.edu/tp/cas"

// ServiceResponse cas:serviceResponse 根元素
type ServiceResponse struct {
	XMLName      xml.Name               `xml:"cas:serviceResponse"`
	Xmlns        string                 `xml:"xmlns:cas,attr"`
	Success      *AuthenticationSuccess `xml:",omitempty"`
	Failure      *AuthenticationFailure `xml:",omitempty"`
	ProxySuccess *ProxySuccess          `xml:",omitempty"`
	ProxyFailure *ProxyFailure          `xml:",omitempty"`
}

// AuthenticationSuccess 校验成功元素
type AuthenticationSuccess struct {
	XMLName    xml.Name    `xml:"cas:authenticationSuccess"`
	User       string      `xml:"cas:user"`
	Attributes *Attributes `xml:",omitempty"`
	PGTIOU     string      `xml:"cas:proxyGrantingTicket,omitempty"`
	Proxies    *Proxies    `xml:",omitempty"`
}

// AuthenticationFailure 校验失败元素
type AuthenticationFailure struct {
	XMLName xml.Name `xml:"cas:authenticationFailure"`
	Code    string   `xml:"code,attr"`
	Message string   `xml:",chardata"`
}

// ProxySuccess 代理票据签发成功元素
type ProxySuccess struct {
	XMLName xml.Name `xml:"cas:proxySuccess"`
	Ticket  string   `xml:"cas:proxyTicket"`
}

// ProxyFailure 代理票据签发失败元素
type ProxyFailure struct {
	XMLName xml.Name `xml:"cas:proxyFailure"`
	Code    string   `xml:"code,attr"`
	Message string   `xml:",chardata"`
}

// Attributes 用户属性块，键固定序输出
type Attributes struct {
	XMLName xml.Name    `xml:"cas:attributes"`
	Items   []Attribute `xml:",omitempty"`
}

// Attribute 单个属性，元素名即属性名
type Attribute struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}

// Proxies 代理链，最近的代理方在前
type Proxies struct {
	XMLName xml.Name `xml:"cas:proxies"`
	Proxies []string `xml:"cas:proxy"`
}

// buildAttributes 属性表转为固定序的元素列表，多值属性重复输出
func buildAttributes(attrs map[string][]string) *Attributes {
	if len(attrs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := &Attributes{}
	for _, k := range keys {
		for _, v := range attrs[k] {
			out.Items = append(out.Items, Attribute{
				XMLName: xml.Name{Local: "cas:" + k},
				Value:   v,
			})
		}
	}
	return out
}

// marshal 序列化，失败时退化为通用失败响应而不是向上抛错
func marshal(v interface{}) []byte {
	data, err := xml.Marshal(v)
	if err != nil {
		return []byte(fmt.Sprintf(
			`<cas:serviceResponse xmlns:cas=%q><cas:authenticationFailure code=%q>响应构造失败</cas:authenticationFailure></cas:serviceResponse>`,
			casNamespace, CodeInternalError))
	}
	return data
}

// SuccessResponse 构造校验成功响应
func SuccessResponse(user string, attrs map[string][]string, pgtIOU string, proxies []string) []byte {
	resp := ServiceResponse{
		Xmlns: casNamespace,
		Success: &AuthenticationSuccess{
			User:       user,
			Attributes: buildAttributes(attrs),
			PGTIOU:     pgtIOU,
		},
	}
	if len(proxies) > 0 {
		resp.Success.Proxies = &Proxies{Proxies: proxies}
	}
	return marshal(resp)
}

// FailureResponse 构造校验失败响应
func FailureResponse(code, message string) []byte {
	return marshal(ServiceResponse{
		Xmlns: casNamespace,
		Failure: &AuthenticationFailure{
			Code:    code,
			Message: message,
		},
	})
}

// ProxySuccessResponse 构造代理票据签发成功响应
func ProxySuccessResponse(ticket string) []byte {
	return marshal(ServiceResponse{
		Xmlns:        casNamespace,
		ProxySuccess: &ProxySuccess{Ticket: ticket},
	})
}

// ProxyFailureResponse 构造代理票据签发失败响应
func ProxyFailureResponse(code, message string) []byte {
	return marshal(ServiceResponse{
		Xmlns:        casNamespace,
		ProxyFailure: &ProxyFailure{Code: code, Message: message},
	})
}
