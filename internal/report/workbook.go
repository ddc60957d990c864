package report

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"
)

const (
	summarySheet = "Summary"
	dosesSheet   = "Doses"
	moodSheet    = "Mood"
)

var (
	doseHeader = []any{"Scheduled", "Medication", "Dosage", "Status", "Taken", "Notes"}
	moodHeader = []any{"Time", "Score", "Label", "Message"}
)

// Workbook renders the report as an xlsx document with summary, dose and mood sheets.
func (b *Builder) Workbook(w *Weekly) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	for _, name := range []string{dosesSheet, moodSheet} {
		if _, err := f.NewSheet(name); err != nil {
			return nil, fmt.Errorf("create sheet %s: %w", name, err)
		}
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("create header style: %w", err)
	}

	summary := [][]any{
		{"Patient", w.User.Name},
		{"From", w.From.In(b.loc).Format("2006-01-02 15:04")},
		{"To", w.To.In(b.loc).Format("2006-01-02 15:04")},
		{"Total doses", w.Adherence.Total},
		{"Taken", w.Adherence.Taken},
		{"Missed", w.Adherence.Missed},
		{"Skipped", w.Adherence.Skipped},
		{"Pending", w.Adherence.Pending},
		{"Adherence rate (%)", w.Adherence.Rate},
		{"Average mood", w.AverageMood},
		{"Mood trend", w.MoodTrend},
		{"Conversations", w.Conversations},
	}
	for i, rec := range w.Recommendations {
		label := ""
		if i == 0 {
			label = "Recommendations"
		}
		summary = append(summary, []any{label, rec})
	}
	if err := writeRows(f, summarySheet, summary); err != nil {
		return nil, err
	}
	if err := f.SetColWidth(summarySheet, "A", "A", 22); err != nil {
		return nil, fmt.Errorf("set column width: %w", err)
	}

	doses := [][]any{doseHeader}
	for _, log := range w.Logs {
		name, dosage := "", ""
		if log.Medication != nil {
			name, dosage = log.Medication.Name, log.Medication.Dosage
		}
		taken := ""
		if log.TakenTime != nil {
			taken = log.TakenTime.In(b.loc).Format("2006-01-02 15:04")
		}
		doses = append(doses, []any{
			log.ScheduledTime.In(b.loc).Format("2006-01-02 15:04"),
			name, dosage, string(log.Status), taken, log.Notes,
		})
	}
	if err := writeRows(f, dosesSheet, doses); err != nil {
		return nil, err
	}

	moods := [][]any{moodHeader}
	for _, c := range w.Moods {
		moods = append(moods, []any{
			c.Timestamp.In(b.loc).Format("2006-01-02 15:04"),
			*c.SentimentScore, c.SentimentLabel, c.Message,
		})
	}
	if err := writeRows(f, moodSheet, moods); err != nil {
		return nil, err
	}

	for _, sheet := range []string{dosesSheet, moodSheet} {
		if err := f.SetCellStyle(sheet, "A1", "F1", headerStyle); err != nil {
			return nil, fmt.Errorf("set header style: %w", err)
		}
		if err := f.SetPanes(sheet, &excelize.Panes{
			Freeze:      true,
			YSplit:      1,
			TopLeftCell: "A2",
			ActivePane:  "bottomLeft",
		}); err != nil {
			return nil, fmt.Errorf("freeze panes: %w", err)
		}
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
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
