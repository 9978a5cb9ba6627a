package receipt

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"crackerpos/backend/internal/apperr"
	"crackerpos/backend/internal/domain"
)

// Rendered is one bill laid out for the counter printer.
type Rendered struct {
	BillID string
	Lines  []string
	Escpos []byte
}

func (r Rendered) Text() string {
	return strings.Join(r.Lines, "\n") + "\n"
}

// Render lays out a finalized bill. The output is a pure function of the bill.
func Render(shopName string, width int, bill domain.Bill) Rendered {
	d := newDocument(width)

	d.align(alignCenter).bold(true).text(shopName).bold(false)
	d.align(alignLeft).separator('=')
	d.text("Bill: " + bill.ID)
	d.text("Date: " + bill.CreatedAt.Format("2006-01-02 15:04:05"))
	if bill.Operator != "" {
		d.text("Operator: " + bill.Operator)
	}
	if bill.CustomerPhone != "" {
		customer := bill.CustomerPhone
		if bill.CustomerName != "" {
			customer = bill.CustomerName + " (" + bill.CustomerPhone + ")"
		}
		d.text("Customer: " + customer)
	}
	d.separator('-')

	for _, line := range bill.Lines {
		d.itemLine(line.Qty, line.Name, line.LineTotal.StringFixed(2))
		detail := "  @ " + line.UnitPrice.StringFixed(2)
		if !line.DiscountPercent.IsZero() {
			detail += " less " + line.DiscountPercent.String() + "%"
		}
		d.text(detail)
	}

	d.separator('-')
	d.keyValue("Items", fmt.Sprintf("%d", bill.ItemCount))
	d.bold(true).keyValue("TOTAL", bill.GrandTotal.StringFixed(2)).bold(false)
	d.separator('=')
	d.align(alignCenter).text("Thank you").align(alignLeft)
	d.cut()

	return Rendered{BillID: bill.ID, Lines: d.lines, Escpos: d.bytes()}
}

// Sink receives a rendered receipt.
type Sink interface {
	Name() string
	Write(ctx context.Context, r Rendered) error
}

// FileSink writes <bill>.txt and <bill>.bin into a directory.
type FileSink struct {
	Dir string
}

func NewFileSink(dir string) *FileSink {
	return &FileSink{Dir: dir}
}

func (s *FileSink) Name() string {
	return "file:" + s.Dir
}

func (s *FileSink) Write(_ context.Context, r Rendered) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("create receipt dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.Dir, r.BillID+".txt"), []byte(r.Text()), 0o644); err != nil {
		return fmt.Errorf("write receipt text: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.Dir, r.BillID+".bin"), r.Escpos, 0o644); err != nil {
		return fmt.Errorf("write receipt escpos: %w", err)
	}
	return nil
}

// PrinterSink sends the ESC/POS stream to a raw TCP printer port, usually 9100.
type PrinterSink struct {
	Addr         string
	DialTimeout  time.Duration
	WriteTimeout time.Duration
}

func NewPrinterSink(addr string) *PrinterSink {
	return &PrinterSink{Addr: addr, DialTimeout: 5 * time.Second, WriteTimeout: 10 * time.Second}
}

func (s *PrinterSink) Name() string {
	return "printer:" + s.Addr
}

func (s *PrinterSink) Write(ctx context.Context, r Rendered) error {
	dialer := net.Dialer{Timeout: s.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("connect printer %s: %w", s.Addr, err)
	}
	defer conn.Close()

	_ = conn.SetWriteDeadline(time.Now().Add(s.WriteTimeout))
	if _, err := conn.Write(r.Escpos); err != nil {
		return fmt.Errorf("write printer %s: %w", s.Addr, err)
	}
	return nil
}

// Emitter renders bills and fans them out to every configured sink.
type Emitter struct {
	shopName string
	width    int
	sinks    []Sink
}

func NewEmitter(shopName string, width int, sinks ...Sink) *Emitter {
	if strings.TrimSpace(shopName) == "" {
		shopName = "CrackerPOS"
	}
	return &Emitter{shopName: shopName, width: width, sinks: sinks}
}

// Preview renders without touching any sink. The receipt view uses it.
func (e *Emitter) Preview(bill domain.Bill) *domain.Receipt {
	return toReceipt(Render(e.shopName, e.width, bill), nil)
}

// Emit renders the bill and hands it to every sink. Every sink is tried even
// after one fails. The returned receipt lists the sinks that succeeded, and the
// error is an *apperr.ExportError naming the ones that did not.
func (e *Emitter) Emit(ctx context.Context, bill domain.Bill) (*domain.Receipt, error) {
	rendered := Render(e.shopName, e.width, bill)

	var (
		delivered []string
		failed    []string
		errs      []error
	)
	for _, sink := range e.sinks {
		if err := sink.Write(ctx, rendered); err != nil {
			failed = append(failed, sink.Name())
			errs = append(errs, err)
			continue
		}
		delivered = append(delivered, sink.Name())
	}

	receipt := toReceipt(rendered, delivered)
	if len(errs) > 0 {
		return receipt, &apperr.ExportError{Target: strings.Join(failed, ","), Err: errors.Join(errs...)}
	}
	return receipt, nil
}

func toReceipt(r Rendered, targets []string) *domain.Receipt {
	return &domain.Receipt{
		BillID:       r.BillID,
		PreviewText:  strings.Join(r.Lines, "\n"),
		EscposBase64: base64.StdEncoding.EncodeToString(r.Escpos),
		FileName:     r.BillID + ".bin",
		Targets:      targets,
	}
}
