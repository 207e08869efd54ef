// Package ticket renders the artifacts sent to a buyer when a reservation
// is approved: a QR code PNG and a one page PDF ticket.
package ticket

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/iliyamo/event-seat-bot/internal/chat"
)

// QRSize is the edge of the QR image in pixels.
const QRSize = 300

// Data is what is printed on a ticket.
type Data struct {
	ReservationID uint64
	EventTitle    string
	StartsAt      time.Time
	TicketName    string
	Guest         string
	ChildSeats    int
	AdultSeats    int
	PriceCents    int64
	Dependents    []string
}

// Code is the check-in code encoded in the QR image.
func Code(reservationID uint64) string { return fmt.Sprintf("ESB-%08d", reservationID) }

// QR returns the PNG of the reservation's check-in code.
func QR(reservationID uint64) ([]byte, error) {
	qr, err := qrcode.New(Code(reservationID), qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("qr code: %w", err)
	}
	png, err := qr.PNG(QRSize)
	if err != nil {
		return nil, fmt.Errorf("qr png: %w", err)
	}
	return png, nil
}

// PDF lays out the ticket with the QR image on top.
func PDF(d Data, qrPNG []byte) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.AddPage()

	if len(qrPNG) > 0 {
		opts := gofpdf.ImageOptions{ImageType: "PNG"}
		name := "qr_" + Code(d.ReservationID)
		pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(qrPNG))
		pdf.ImageOptions(name, (210.0-80.0)/2, pdf.GetY(), 80, 80, false, opts, 0, "")
		pdf.Ln(84)
	}

	pdf.SetDrawColor(200, 200, 200)
	pdf.SetLineWidth(0.5)
	pdf.Line(20, pdf.GetY(), 190, pdf.GetY())
	pdf.Ln(6)

	pdf.SetFont("Arial", "B", 20)
	pdf.SetX(20)
	pdf.MultiCell(170, 9, tr(d.EventTitle), "", "L", false)
	pdf.SetFont("Arial", "", 14)
	pdf.SetX(20)
	pdf.CellFormat(170, 8, d.StartsAt.Format("Monday, January 2, 2006 15:04"), "", 1, "L", false, 0, "")
	pdf.Ln(4)

	row := func(label, value string) {
		pdf.SetX(20)
		pdf.SetFont("Arial", "", 13)
		pdf.CellFormat(45, 8, label, "", 0, "L", false, 0, "")
		pdf.SetFont("Arial", "B", 13)
		pdf.CellFormat(125, 8, tr(value), "", 1, "L", false, 0, "")
	}
	row("Guest:", d.Guest)
	row("Ticket:", d.TicketName)
	row("Seats:", fmt.Sprintf("%d child, %d adult", d.ChildSeats, d.AdultSeats))
	row("Price:", Price(d.PriceCents))
	if len(d.Dependents) > 0 {
		row("Also admitted:", strings.Join(d.Dependents, "; "))
	}
	pdf.Ln(6)

	pdf.SetFont("Arial", "I", 12)
	pdf.SetTextColor(100, 100, 100)
	pdf.CellFormat(0, 8, "Ticket code: "+Code(d.ReservationID), "", 1, "C", false, 0, "")
	pdf.MultiCell(0, 6, "Show this ticket at the entrance. The QR code is scanned at check-in.", "", "C", false)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("ticket pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// Render returns the QR image and the PDF as chat attachments.
func Render(d Data) ([]chat.Attachment, error) {
	png, err := QR(d.ReservationID)
	if err != nil {
		return nil, err
	}
	doc, err := PDF(d, png)
	if err != nil {
		return nil, err
	}
	code := Code(d.ReservationID)
	return []chat.Attachment{
		{Name: code + ".png", MIME: "image/png", Data: png},
		{Name: code + ".pdf", MIME: "application/pdf", Data: doc},
	}, nil
}

// Price formats minor units as a decimal amount.
func Price(cents int64) string {
	sign := ""
	if cents < 0 {
		sign, cents = "-", -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
