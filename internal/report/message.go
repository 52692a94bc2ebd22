package report

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"
)

// Message is the rendered notification for one submit.
type Message struct {
	Subject string
	HTML    string
}

var bodyTemplate = template.Must(template.New("summary").Parse(`<html>
<body style="font-family: Arial, sans-serif;">
<h2>Taxroll Update Submission</h2>
<p>User <b>{{.Identity}}</b> has submitted taxroll updates on {{.At}}.</p>
<h3>Taxroll Update Summary</h3>
<table border="1" cellspacing="0" cellpadding="8" style="border-collapse: collapse;">
<tr style="background-color: #f8f9fa;"><th>Module</th><th>Records</th><th>Distinct Batches</th></tr>
{{- range .Summary.Modules}}
<tr><td>{{.Module}}</td><td>{{.Records}}</td><td>{{len .Batches}}</td></tr>
{{- end}}
</table>
<p><b>Total Distinct Batches:</b> {{len .Summary.Batches}} ({{.BatchList}})</p>
<p>Detailed records are available in the attached Excel file.</p>
<hr>
<p><i>This is an automated email from the Taxroll Update System.</i></p>
</body>
</html>
`))

// RenderMessage builds the subject line and HTML body for s.
func RenderMessage(s Summary, identity string, at time.Time) (Message, error) {
	list := strings.Join(s.Batches, ", ")
	var buf bytes.Buffer
	err := bodyTemplate.Execute(&buf, struct {
		Identity  string
		At        string
		Summary   Summary
		BatchList string
	}{identity, at.Format("2006-01-02 15:04:05"), s, list})
	if err != nil {
		return Message{}, fmt.Errorf("render summary: %w", err)
	}
	return Message{
		Subject: fmt.Sprintf("Taxroll Updates Summary - %d Batches Processed (%s)", len(s.Batches), list),
		HTML:    buf.String(),
	}, nil
}
