package handlers

import (
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"motoshop-payments/payu"
)

var responseTmpl = template.Must(template.New("response").Parse(`<!DOCTYPE html>
<html>
<head><title>Resultado del pago</title></head>
<body>
<h1>{{.Headline}}</h1>
<p>{{.Detail}}</p>
{{if .Reference}}<p>Referencia: {{.Reference}}</p>{{end}}
{{if .TransactionID}}<p>Transacción: {{.TransactionID}}</p>{{end}}
<a href="/">Volver a la tienda</a>
</body>
</html>
`))

type ResponseHandler struct {
	logger *zap.Logger
}

func NewResponseHandler(logger *zap.Logger) *ResponseHandler {
	return &ResponseHandler{logger: logger}
}

// Response renders the page the buyer lands on after the gateway redirect.
// The redirect is browser-supplied and not signed the way the confirmation
// is, so it is display only: no authentication, no state change. The
// confirmation webhook is the source of truth.
func (h *ResponseHandler) Response(c *gin.Context) {
	statePol := formValue(c, "state_pol")

	var headline, detail string
	switch statePol {
	case payu.StateApproved:
		headline = "¡Pago aprobado!"
		detail = "Tu pedido está siendo procesado. Recibirás una confirmación por correo."
	case payu.StateDeclined:
		headline = "Pago rechazado"
		detail = "La transacción fue rechazada por la entidad. Puedes intentarlo de nuevo."
	case payu.StateExpired:
		headline = "Pago expirado"
		detail = "La transacción expiró sin completarse."
	case payu.StatePending:
		headline = "Pago pendiente"
		detail = "La transacción está pendiente de confirmación por parte del medio de pago."
	default:
		headline = "Estado del pago desconocido"
		detail = "Consulta el estado de tu pedido en tu perfil."
	}

	h.logger.Info("Gateway response redirect",
		zap.String("state_pol", statePol),
		zap.String("reference", formValue(c, "referenceCode")),
	)

	c.Status(http.StatusOK)
	c.Header("Content-Type", "text/html; charset=utf-8")
	if err := responseTmpl.Execute(c.Writer, gin.H{
		"Headline":      headline,
		"Detail":        detail,
		"Reference":     formValue(c, "referenceCode"),
		"TransactionID": formValue(c, "transactionId"),
	}); err != nil {
		h.logger.Error("Failed to render response page", zap.Error(err))
	}
}

// formValue reads a parameter from the query string or the form body; PayU
// uses GET in sandbox and POST in production for the same redirect.
func formValue(c *gin.Context, key string) string {
	if v := c.Query(key); v != "" {
		return v
	}
	return c.PostForm(key)
}
