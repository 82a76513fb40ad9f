// Package web 嵌入登录与确认页面模板
package web

import (
	"embed"
	"html/template"
)

//go:embed templates/*.html
var templateFS embed.FS

// Templates 解析内嵌模板，供 gin 的 SetHTMLTemplate 使用
func Templates() *template.Template {
	return template.Must(template.ParseFS(templateFS, "templates/*.html"))
}
