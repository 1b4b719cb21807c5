package candidates

import (
	"encoding/csv"
	"fmt"
	"os"

	"github.com/Ss-maker786/x-auto-post/internal/domain"
)

var csvHeader = []string{"date", "username", "display_name", "bio", "last_tweet", "url"}

// WriteCSV replaces the candidates file with this run's rows. The header is
// written even when there are no rows, so an empty result is still a valid
// file. The write goes through a temp file and rename.
func WriteCSV(path string, cands []domain.Candidate) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("write candidates: %w", err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		f.Close()
		return fmt.Errorf("write candidates header: %w", err)
	}
	for _, c := range cands {
		rec := []string{c.Date, c.Username, c.DisplayName, c.Bio, c.LastTweet, c.URL}
		if err := w.Write(rec); err != nil {
			f.Close()
			return fmt.Errorf("write candidate row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("flush candidates: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close candidates: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace candidates: %w", err)
	}
	return nil
}
