package report_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/pathakanu/carely/internal/model"
	"github.com/pathakanu/carely/internal/report"
	"github.com/pathakanu/carely/internal/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestWeeklyReport(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	user := storetest.Patient(t, s, "Ada")
	now := time.Date(2024, 6, 10, 8, 0, 0, 0, time.UTC)

	med := &model.Medication{UserID: user.ID, Name: "Aspirin", Dosage: "81mg", Frequency: model.FrequencyDaily, ScheduleTimes: []string{"09:00"}}
	require.NoError(t, s.CreateMedication(ctx, med))
	for i, status := range []model.LogStatus{model.LogTaken, model.LogTaken, model.LogMissed, model.LogTaken} {
		log := &model.MedicationLog{UserID: user.ID, MedicationID: med.ID, ScheduledTime: now.AddDate(0, 0, -i-1), Status: status}
		require.NoError(t, s.DB().Create(log).Error)
	}
	for _, score := range []float64{-0.5, -0.4} {
		score := score
		require.NoError(t, s.CreateConversation(ctx, &model.Conversation{UserID: user.ID, Message: "tired", SentimentScore: &score, SentimentLabel: "negative", Timestamp: now.Add(-time.Hour)}))
	}

	b := report.NewBuilder(s, time.UTC)
	w, err := b.Weekly(ctx, user.ID, now)
	require.NoError(t, err)
	assert.Equal(t, 4, w.Adherence.Total)
	assert.Equal(t, 75.0, w.Adherence.Rate)
	assert.InDelta(t, -0.45, w.AverageMood, 1e-9)
	assert.Equal(t, "Concerning", w.MoodTrend)
	assert.Equal(t, []string{
		"Consider medication reminder system improvements",
		"Monitor mood closely, consider professional consultation",
	}, w.Recommendations)

	text := w.Text()
	assert.Contains(t, text, "Weekly Report for Ada:")
	assert.Contains(t, text, "- Adherence rate: 75.0%")
	assert.Contains(t, text, "- Total conversations: 2")

	data, err := b.Workbook(w)
	require.NoError(t, err)
	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"Summary", "Doses", "Mood"}, f.GetSheetList())
	doses, err := f.GetRows("Doses")
	require.NoError(t, err)
	require.Len(t, doses, 5)
	assert.Equal(t, "Aspirin", doses[1][1])
	moods, err := f.GetRows("Mood")
	require.NoError(t, err)
	assert.Len(t, moods, 3)
}

func TestWeeklyReportWithoutData(t *testing.T) {
	s := storetest.New(t)
	user := storetest.Patient(t, s, "Ada")

	w, err := report.NewBuilder(s, nil).Weekly(context.Background(), user.ID, time.Now())
	require.NoError(t, err)
	assert.False(t, w.Adherence.HasData())
	assert.Equal(t, "Neutral", w.MoodTrend)
	assert.Equal(t, []string{"Continue current care routine, all metrics look good"}, w.Recommendations)
	assert.Contains(t, w.Text(), "no doses scheduled")
}

func TestMoodBand(t *testing.T) {
	assert.Equal(t, "Positive", report.MoodBand(0.21))
	assert.Equal(t, "Neutral", report.MoodBand(0.2))
	assert.Equal(t, "Neutral", report.MoodBand(-0.19))
	assert.Equal(t, "Concerning", report.MoodBand(-0.2))
}
