package session

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/IshaanNene/phonegoat/internal/types"
)

const (
	reportTimeLayout = "02.01.2006-15-04-05"
	reportDateLayout = "02.01.2006 15:04:05"
)

// Report summarizes a session. Total, Success and Records describe the
// whole ledger; Processed, Resolved, Skipped, APICalls and New describe
// this run only.
type Report struct {
	Started    time.Time
	Elapsed    time.Duration
	Region     types.Region
	Categories []types.AuthorCategory
	MaxPhones  int

	Total   int
	Success int
	Records []types.Entry

	Processed int
	Resolved  int
	Skipped   int
	APICalls  int
	New       []types.Entry

	Path string
}

// Filename returns phones_<regionID>_<cat1_cat2>_<timestamp>.txt.
func (r *Report) Filename() string {
	region := r.Region.ID
	if region == "" {
		region = "unknown"
	}
	cats := "all"
	if len(r.Categories) > 0 {
		names := make([]string, len(r.Categories))
		for i, c := range r.Categories {
			names[i] = string(c)
		}
		cats = strings.Join(names, "_")
	}
	return fmt.Sprintf("phones_%s_%s_%s.txt", region, cats, r.Started.Format(reportTimeLayout))
}

// Render writes the plain-text report to w.
func (r *Report) Render(w io.Writer) error {
	bw := bufio.NewWriter(w)
	rule := strings.Repeat("=", 60)

	labels := make([]string, len(r.Categories))
	for i, c := range r.Categories {
		labels[i] = c.DisplayName()
	}
	limit := "без ограничений"
	if r.MaxPhones > 0 {
		limit = fmt.Sprint(r.MaxPhones)
	}

	fmt.Fprintln(bw, "ОТЧЕТ О ПАРСИНГЕ ТЕЛЕФОННЫХ НОМЕРОВ")
	fmt.Fprintf(bw, "%s\n\n", rule)
	fmt.Fprintf(bw, "Дата парсинга: %s\n", r.Started.Format(reportDateLayout))
	fmt.Fprintf(bw, "Типы авторов: %s\n", strings.Join(labels, ", "))
	fmt.Fprintf(bw, "Регион: %s (ID: %s)\n", r.Region.Name, r.Region.ID)
	fmt.Fprintf(bw, "Обработано объявлений: %d\n", r.Total)
	fmt.Fprintf(bw, "Успешно полученных номеров: %d\n", r.Success)
	fmt.Fprintf(bw, "Время выполнения: %s\n", r.Elapsed.Round(time.Second))
	fmt.Fprintf(bw, "Ограничение на количество: %s\n\n", limit)

	fmt.Fprintln(bw, "НОМЕРА:")
	fmt.Fprintln(bw, rule)
	sep := strings.Repeat("-", 50)
	for _, e := range r.Records {
		fmt.Fprintf(bw, "ID: %s\n", e.ID)
		fmt.Fprintf(bw, "Phone: %s\n", e.Record.Phone)
		fmt.Fprintf(bw, "Source: %s\n", e.Record.Source)
		fmt.Fprintln(bw, sep)
	}
	return bw.Flush()
}

// Write renders the report into dir and records the resulting path.
func (r *Report) Write(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &types.StorageError{Backend: "report", Err: err}
	}
	path := filepath.Join(dir, r.Filename())
	f, err := os.Create(path)
	if err != nil {
		return "", &types.StorageError{Backend: "report", Err: err}
	}
	if err := r.Render(f); err != nil {
		f.Close()
		return "", &types.StorageError{Backend: "report", Err: err}
	}
	if err := f.Close(); err != nil {
		return "", &types.StorageError{Backend: "report", Err: err}
	}
	r.Path = path
	return path, nil
}
