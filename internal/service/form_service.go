package service

import (
	"bytes"
	"context"
	"html/template"
	"strings"
	"time"

	"github.com/ihacademy/debit-orders-go/internal/domain"
)

// ============================================================
// Mandate authorization form
// ============================================================

// mandateFormTmpl renders the printable debit-order authorization the member
// signs before the mandate can be activated.
var mandateFormTmpl = template.Must(template.New("mandate_form").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Debit Order Authorization {{.Reference}}</title>
<style>
  body { font-family: Georgia, serif; max-width: 720px; margin: 2rem auto; color: #1a1a1a; }
  h1 { font-size: 1.4rem; border-bottom: 2px solid #1a1a1a; padding-bottom: .5rem; }
  table { width: 100%; border-collapse: collapse; margin: 1.5rem 0; }
  td { padding: .4rem .6rem; border: 1px solid #999; }
  td.label { width: 40%; font-weight: bold; background: #f4f4f4; }
  .terms { font-size: .85rem; line-height: 1.5; }
  .sign { margin-top: 3rem; display: flex; justify-content: space-between; }
  .sign div { width: 45%; border-top: 1px solid #1a1a1a; padding-top: .3rem; font-size: .85rem; }
</style>
</head>
<body>
<h1>Debit Order Authorization</h1>
<p>Reference: <strong>{{.Reference}}</strong> &mdash; issued {{.IssuedOn}}</p>
<table>
  <tr><td class="label">Account holder</td><td>{{.AccountHolder}}</td></tr>
  <tr><td class="label">Bank</td><td>{{.BankName}}</td></tr>
  <tr><td class="label">Account number</td><td>{{.MaskedAccount}}</td></tr>
  <tr><td class="label">Branch code</td><td>{{.BranchCode}}</td></tr>
  <tr><td class="label">Account type</td><td>{{.AccountType}}</td></tr>
  <tr><td class="label">Maximum amount</td><td>R {{.MaxAmount}}</td></tr>
  <tr><td class="label">Frequency</td><td>{{.Frequency}}</td></tr>
  <tr><td class="label">First debit date</td><td>{{.StartDate}}</td></tr>
  {{if .EndDate}}<tr><td class="label">Final debit date</td><td>{{.EndDate}}</td></tr>{{end}}
</table>
<p class="terms">
I, {{.AccountHolder}}, hereby authorize the organization to debit the account
listed above on a {{.Frequency}} basis for amounts not exceeding R {{.MaxAmount}}
per debit. I understand this authorization remains in force until cancelled in
writing, and that cancellation does not affect amounts already due. Debits that
fail may be re-presented in line with the payment schedule.
</p>
<div class="sign">
  <div>Signature of account holder</div>
  <div>Date</div>
</div>
</body>
</html>
`))

type mandateFormData struct {
	Reference     string
	IssuedOn      string
	AccountHolder string
	BankName      string
	MaskedAccount string
	BranchCode    string
	AccountType   string
	MaxAmount     string
	Frequency     string
	StartDate     string
	EndDate       string
}

// RenderMandateForm produces the signing form for a mandate as HTML.
// Only pending mandates have a form; anything else has already been decided.
func (s *MandateService) RenderMandateForm(ctx context.Context, mandateID string) ([]byte, error) {
	ctx, span := mandateTracer.Start(ctx, "MandateService.RenderMandateForm")
	defer span.End()

	m, err := s.GetMandate(ctx, mandateID)
	if err != nil {
		return nil, err
	}
	if m.Status != domain.MandateStatusPending {
		return nil, &domain.ErrInvalidState{Resource: "mandate", ID: mandateID, Current: string(m.Status), Action: "render form for"}
	}

	data := mandateFormData{
		Reference:     m.MandateReference,
		IssuedOn:      time.Now().Format("2 January 2006"),
		AccountHolder: m.AccountHolder,
		BankName:      m.BankName,
		MaskedAccount: maskAccountNumber(m.AccountNumber),
		BranchCode:    m.BranchCode,
		AccountType:   string(m.AccountType),
		MaxAmount:     m.MaxAmount.StringFixed(2),
		Frequency:     string(m.Frequency),
		StartDate:     m.StartDate.Format(dateLayout),
	}
	if m.EndDate != nil {
		data.EndDate = m.EndDate.Format(dateLayout)
	}

	var buf bytes.Buffer
	if err := mandateFormTmpl.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// maskAccountNumber hides all but the last four digits.
func maskAccountNumber(n string) string {
	if len(n) <= 4 {
		return n
	}
	return strings.Repeat("*", len(n)-4) + n[len(n)-4:]
}
