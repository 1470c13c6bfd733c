package receipts

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

var receiptHTML = template.Must(template.New("receipt").Funcs(template.FuncMap{
	"money": func(d Document, which string) string {
		if which == "balance" {
			return mustFormat(d.Currency, d.BalanceDue)
		}
		return mustFormat(d.Currency, d.Amount)
	},
}).Parse(`<!doctype html>
<html><head><meta charset="utf-8"><title>{{.Number}}</title>
<style>body{font-family:Helvetica,Arial,sans-serif;font-size:12px}td{padding:4px 8px}</style></head>
<body>
<h2>Payment receipt {{.Number}}</h2>
<table>
<tr><td>Invoice</td><td>{{.InvoiceNumber}}</td></tr>
<tr><td>Payment date</td><td>{{.PaymentDate}}</td></tr>
<tr><td>Method</td><td>{{.PaymentMethod}}</td></tr>
{{if .Reference}}<tr><td>Reference</td><td>{{.Reference}}</td></tr>{{end}}
<tr><td><strong>Amount received</strong></td><td><strong>{{money . "amount"}}</strong></td></tr>
<tr><td>Balance due</td><td>{{money . "balance"}}</td></tr>
</table>
</body></html>`))

// GotenbergRenderer converts the HTML receipt through a Gotenberg instance.
type GotenbergRenderer struct {
	baseURL    string
	httpClient *http.Client
}

// NewGotenbergRenderer constructs a renderer talking to baseURL.
func NewGotenbergRenderer(baseURL string) *GotenbergRenderer {
	return &GotenbergRenderer{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Ping checks if the remote Gotenberg service is available.
func (g *GotenbergRenderer) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("gotenberg returned status %d", resp.StatusCode)
	}
	return nil
}

// Render implements Renderer.
func (g *GotenbergRenderer) Render(ctx context.Context, doc Document) ([]byte, error) {
	var html bytes.Buffer
	if err := receiptHTML.Execute(&html, doc); err != nil {
		return nil, fmt.Errorf("gotenberg: template: %w", err)
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("files", "index.html")
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, &html); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/forms/chromium/convert/html", body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("gotenberg: render failed with status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
