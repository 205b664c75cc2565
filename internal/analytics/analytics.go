package analytics

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"jobmail/internal/dataset"
	"jobmail/internal/fileutil"
	"jobmail/internal/storage"
)

const dateLayout = "2006-01-02"

// Row одна строка метрик. Других полей у метрик нет.
type Row struct {
	Date  string `json:"date"`
	Label string `json:"label"`
	Count int    `json:"count"`
}

// DailyCounts сворачивает события в строки (date, label, count),
// отсортированные по дате, затем по метке. Пробные прогоны не учитываются.
func DailyCounts(events []storage.Event, loc *time.Location) []Row {
	if loc == nil {
		loc = time.UTC
	}
	type key struct{ date, label string }
	counts := make(map[key]int)
	for _, ev := range events {
		if ev.DryRun || ev.Label == "" {
			continue
		}
		counts[key{ev.Timestamp.In(loc).Format(dateLayout), ev.Label}]++
	}

	rows := make([]Row, 0, len(counts))
	for k, n := range counts {
		rows = append(rows, Row{Date: k.date, Label: k.label, Count: n})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Date != rows[j].Date {
			return rows[i].Date < rows[j].Date
		}
		return rows[i].Label < rows[j].Label
	})
	return rows
}

// RecordCounts считает те же строки по собранным письмам с известной меткой,
// по дате получения.
func RecordCounts(recs []dataset.Record, loc *time.Location) []Row {
	events := make([]storage.Event, 0, len(recs))
	for _, r := range recs {
		if r.ReceivedAt.IsZero() {
			continue
		}
		events = append(events, storage.Event{Timestamp: r.ReceivedAt, Label: r.Label})
	}
	return DailyCounts(events, loc)
}

// EncodeCSV пишет строки с заголовком date,label,count.
func EncodeCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"date", "label", "count"}); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write([]string{r.Date, r.Label, strconv.Itoa(r.Count)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteCSV атомарно заменяет файл метрик.
func WriteCSV(path string, rows []Row) error {
	if err := fileutil.WriteAtomic(path, 0o644, func(w io.Writer) error {
		return EncodeCSV(w, rows)
	}); err != nil {
		return fmt.Errorf("write metrics csv: %w", err)
	}
	return nil
}

// DailyStats содержит статистику за день
type DailyStats struct {
	Date           string         `json:"date"`
	Total          int            `json:"total"`
	ByLabel        map[string]int `json:"by_label"`
	Uncertain      int            `json:"uncertain"`
	MeanConfidence float64        `json:"mean_confidence"`
}

// AnalyzeDay считает вердикты за указанную дату
func AnalyzeDay(events []storage.Event, targetDate time.Time, uncertainLabel string) *DailyStats {
	// Нормализуем дату до начала дня
	startOfDay := time.Date(targetDate.Year(), targetDate.Month(), targetDate.Day(), 0, 0, 0, 0, targetDate.Location())
	endOfDay := startOfDay.AddDate(0, 0, 1)

	stats := &DailyStats{
		Date:    startOfDay.Format(dateLayout),
		ByLabel: make(map[string]int),
	}
	var confSum float64
	for _, ev := range events {
		if ev.DryRun || ev.Timestamp.Before(startOfDay) || !ev.Timestamp.Before(endOfDay) {
			continue
		}
		stats.Total++
		stats.ByLabel[ev.Label]++
		if ev.Label == uncertainLabel {
			stats.Uncertain++
		}
		confSum += ev.Confidence
	}
	if stats.Total > 0 {
		stats.MeanConfidence = confSum / float64(stats.Total)
	}
	return stats
}

// GenerateReportSummary создает текстовое резюме для отчёта и LLM
func (ds *DailyStats) GenerateReportSummary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Mail sorting for %s\n\n", ds.Date)
	if ds.Total == 0 {
		b.WriteString("No messages were classified.\n")
		return b.String()
	}
	fmt.Fprintf(&b, "Classified: %d\n", ds.Total)

	labels := make([]string, 0, len(ds.ByLabel))
	for l := range ds.ByLabel {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	for _, l := range labels {
		fmt.Fprintf(&b, "- %s: %d\n", l, ds.ByLabel[l])
	}
	if ds.Uncertain > 0 {
		fmt.Fprintf(&b, "\nLeft for manual review: %d\n", ds.Uncertain)
	}
	fmt.Fprintf(&b, "Mean confidence: %.2f\n", ds.MeanConfidence)
	return b.String()
}

// ToJSON сериализует статистику в JSON для детального анализа
func (ds *DailyStats) ToJSON() (string, error) {
	data, err := json.MarshalIndent(ds, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
