package worker

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"text/template"
	"time"

	"evshop-payment/internal/mailer"
	"evshop-payment/internal/models"
)

const (
	tmplOrderCreated   = "order_created"
	tmplStatusChanged  = "status_changed"
	tmplPaymentFlagged = "payment_flagged"
	tmplOTP            = "otp"
)

var ict = time.FixedZone("ICT", 7*60*60)

var statusLabels = map[models.OrderStatus]string{
	models.OrderStatusPendingPayment: "Chờ thanh toán",
	models.OrderStatusDepositPaid:    "Đã đặt cọc",
	models.OrderStatusProcessing:     "Đang xử lý",
	models.OrderStatusReadyForPickup: "Sẵn sàng bàn giao",
	models.OrderStatusCompleted:      "Hoàn thành",
	models.OrderStatusCancelled:      "Đã hủy",
	models.OrderStatusRefunded:       "Đã hoàn tiền",
	models.OrderStatusPaymentFailed:  "Thanh toán lỗi",
}

// vnd formats 1500000 as "1.500.000 ₫"
func vnd(amount int64) string {
	s := strconv.FormatInt(amount, 10)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String() + " ₫"
	}
	return b.String() + " ₫"
}

func label(s models.OrderStatus) string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return string(s)
}

var funcs = template.FuncMap{
	"vnd":   vnd,
	"label": label,
	"local": func(t time.Time) string { return t.In(ict).Format("15:04 02/01/2006") },
}

type mailTemplate struct {
	subject *template.Template
	body    *template.Template
}

func mustTemplate(subject, body string) mailTemplate {
	return mailTemplate{
		subject: template.Must(template.New("subject").Funcs(funcs).Parse(subject)),
		body:    template.Must(template.New("body").Funcs(funcs).Parse(body)),
	}
}

var templates = map[string]mailTemplate{
	tmplOrderCreated: mustTemplate(
		`Xác nhận đơn hàng {{.OrderCode}}`,
		`Xin chào {{.Customer.Name}},

Đơn hàng {{.OrderCode}} đã được tạo với tổng giá trị {{vnd .TotalAmount}}.
Vui lòng hoàn tất thanh toán để chúng tôi giữ xe cho bạn.
`),
	tmplStatusChanged: mustTemplate(
		`Đơn hàng {{.OrderCode}}: {{label .To}}`,
		`Xin chào {{.Customer.Name}},

Trạng thái đơn hàng {{.OrderCode}} đã chuyển từ "{{label .From}}" sang "{{label .To}}".
{{if .Cause}}Ghi chú: {{.Cause}}
{{end}}`),
	tmplPaymentFlagged: mustTemplate(
		`[Cần kiểm tra] Giao dịch {{.TransactionID}} của đơn {{.OrderCode}}`,
		`Giao dịch {{.TransactionID}} ({{.Gateway}}, {{vnd .Amount}}) bị đánh dấu cần kiểm tra.
Lý do: {{.Reason}}
`),
	tmplOTP: mustTemplate(
		`Mã xác thực tra cứu đơn hàng`,
		`Mã xác thực của bạn là {{.Code}}.
Mã có hiệu lực đến {{local .ExpiresAt}}. Không chia sẻ mã này cho bất kỳ ai.
`),
}

func render(name string, data interface{}) (*mailer.Message, error) {
	t, ok := templates[name]
	if !ok {
		return nil, fmt.Errorf("unknown mail template %q", name)
	}
	var subject, body bytes.Buffer
	if err := t.subject.Execute(&subject, data); err != nil {
		return nil, fmt.Errorf("render %s subject: %w", name, err)
	}
	if err := t.body.Execute(&body, data); err != nil {
		return nil, fmt.Errorf("render %s body: %w", name, err)
	}
	return &mailer.Message{Subject: subject.String(), Text: body.String()}, nil
}
