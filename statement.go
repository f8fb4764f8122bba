package atmledger

import (
	"io"
	"time"

	"github.com/go-pdf/fpdf"
)

var statementCols = []struct {
	title string
	width float64
	align string
}{
	{"Date", 44, "L"},
	{"Type", 38, "L"},
	{"Amount", 34, "R"},
	{"Fee", 24, "R"},
	{"Net", 34, "R"},
}

// renderStatement writes a PDF listing txns under an account header.
func renderStatement(w io.Writer, acct *Account, txns []Transaction, at time.Time) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Account statement "+acct.Number, false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 14)
	pdf.Cell(0, 8, "Account statement")
	pdf.Ln(10)

	pdf.SetFont("Helvetica", "", 10)
	pdf.Cell(0, 6, "Account number: "+acct.Number)
	pdf.Ln(6)
	pdf.Cell(0, 6, "Balance: "+acct.Balance.StringFixed(moneyPlaces))
	pdf.Ln(6)
	pdf.Cell(0, 6, "Generated: "+at.Local().Format("2006-01-02 15:04:05"))
	pdf.Ln(10)

	pdf.SetFont("Helvetica", "B", 10)
	for _, c := range statementCols {
		pdf.CellFormat(c.width, 7, c.title, "B", 0, c.align, false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 10)
	if len(txns) == 0 {
		pdf.Cell(0, 7, "No transactions.")
		pdf.Ln(-1)
	}
	for _, t := range txns {
		row := []string{
			t.Date.Local().Format("2006-01-02 15:04:05"),
			string(t.Kind),
			t.Amount.StringFixed(moneyPlaces),
			t.Fee.StringFixed(moneyPlaces),
			t.NetAmount.StringFixed(moneyPlaces),
		}
		for i, c := range statementCols {
			pdf.CellFormat(c.width, 6, row[i], "", 0, c.align, false, 0, "")
		}
		pdf.Ln(-1)
	}

	return pdf.Output(w)
}
