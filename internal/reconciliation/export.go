package reconciliation

import (
	"context"
	"fmt"
	"io"

	"github.com/KromaEnergia/contract-engine/internal/tenancy"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

const (
	sheetSummary  = "Summary"
	sheetSchedule = "Schedule"
	sheetPayments = "Payments"
	dateLayout    = "2006-01-02"
)

// ExportWorkbook writes the contract summary, payment schedule and actual
// payments as an XLSX workbook.
func (s *Service) ExportWorkbook(ctx context.Context, tc tenancy.Context, contractID string, w io.Writer) error {
	sum, err := s.ContractSummary(ctx, tc, contractID)
	if err != nil {
		return err
	}
	schedule, err := s.Schedule(ctx, tc, contractID)
	if err != nil {
		return err
	}
	payments, err := s.Payments(ctx, tc, contractID)
	if err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", sheetSummary); err != nil {
		return err
	}
	summaryRows := [][]any{
		{"Contract", sum.ContractID},
		{"Currency", sum.Currency},
		{"Original value", amount(sum.OriginalValue)},
		{"Current value", amount(sum.CurrentValue)},
		{"Certified", amount(sum.Certified)},
		{"Retention held", amount(sum.RetentionHeld)},
		{"Payable", amount(sum.Payable)},
		{"Paid", amount(sum.Paid)},
		{"Outstanding", amount(sum.Outstanding)},
		{"Scheduled open", amount(sum.ScheduledOpen)},
		{"Overdue entries", sum.OverdueEntries},
		{"Overpaid payments", sum.OverpaidPayments},
	}
	if err := writeRows(f, sheetSummary, summaryRows); err != nil {
		return err
	}

	if _, err := f.NewSheet(sheetSchedule); err != nil {
		return err
	}
	rows := [][]any{{"Description", "Due date", "Amount", "Currency", "Status", "Paid at"}}
	for _, e := range schedule {
		paidAt := ""
		if e.PaidAt != nil {
			paidAt = e.PaidAt.Format(dateLayout)
		}
		rows = append(rows, []any{e.Description, e.DueDate.Format(dateLayout), amount(e.Amount), e.Currency, string(e.Status), paidAt})
	}
	if err := writeRows(f, sheetSchedule, rows); err != nil {
		return err
	}

	if _, err := f.NewSheet(sheetPayments); err != nil {
		return err
	}
	rows = [][]any{{"Paid date", "Amount", "Currency", "Method", "Reference", "Certificate", "Overpayment"}}
	for _, p := range payments {
		cert := ""
		if p.CertificateID != nil {
			cert = *p.CertificateID
		}
		rows = append(rows, []any{p.PaidDate.Format(dateLayout), amount(p.AmountPaid), p.Currency, p.PaymentMethod, p.Reference, cert, p.Overpayment})
	}
	if err := writeRows(f, sheetPayments, rows); err != nil {
		return err
	}

	_, err = f.WriteTo(w)
	return err
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

// amount renders money as a spreadsheet number.
func amount(d decimal.Decimal) float64 { return d.InexactFloat64() }
