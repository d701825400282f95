package replay

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/alanyoungcy/tickrl/internal/domain"
)

// ContentType is the media type of an encoded batch.
const ContentType = "text/csv"

// columnCount is action + reward + state + next_state.
const columnCount = 2 + 2*domain.FeatureCount

// Columns returns the fixed column order of a flattened record.
func Columns() []string {
	cols := make([]string, 0, columnCount)
	cols = append(cols, "action", "reward")
	for i := 0; i < domain.FeatureCount; i++ {
		cols = append(cols, "state_"+strconv.Itoa(i))
	}
	for i := 0; i < domain.FeatureCount; i++ {
		cols = append(cols, "next_"+strconv.Itoa(i))
	}
	return cols
}

// EncodeRecord flattens a sample. Floats are written with the shortest
// representation that parses back to the same float32.
func EncodeRecord(s domain.ExperienceSample) []string {
	rec := make([]string, 0, columnCount)
	rec = append(rec, strconv.Itoa(int(s.Action)), formatFloat(s.Reward))
	for _, v := range s.State {
		rec = append(rec, formatFloat(v))
	}
	for _, v := range s.NextState {
		rec = append(rec, formatFloat(v))
	}
	return rec
}

// DecodeRecord parses a flattened record back into a sample.
func DecodeRecord(rec []string) (domain.ExperienceSample, error) {
	var s domain.ExperienceSample
	if len(rec) != columnCount {
		return s, fmt.Errorf("replay: %d columns, want %d: %w", len(rec), columnCount, domain.ErrBadRecord)
	}

	action, err := strconv.ParseUint(rec[0], 10, 8)
	if err != nil || !domain.Action(action).Valid() {
		return s, fmt.Errorf("replay: action %q: %w", rec[0], domain.ErrBadRecord)
	}
	s.Action = domain.Action(action)

	if s.Reward, err = parseFloat(rec[1]); err != nil {
		return s, fmt.Errorf("replay: reward: %w", err)
	}
	for i := 0; i < domain.FeatureCount; i++ {
		if s.State[i], err = parseFloat(rec[2+i]); err != nil {
			return s, fmt.Errorf("replay: state_%d: %w", i, err)
		}
		if s.NextState[i], err = parseFloat(rec[2+domain.FeatureCount+i]); err != nil {
			return s, fmt.Errorf("replay: next_%d: %w", i, err)
		}
	}
	return s, nil
}

// WriteCSV writes a header row followed by one row per sample.
func WriteCSV(w io.Writer, samples []domain.ExperienceSample) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns()); err != nil {
		return fmt.Errorf("replay: write header: %w", err)
	}
	for i, s := range samples {
		if err := cw.Write(EncodeRecord(s)); err != nil {
			return fmt.Errorf("replay: write row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV parses rows written by WriteCSV. A leading header row is optional.
func ReadCSV(r io.Reader) ([]domain.ExperienceSample, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = columnCount
	cr.ReuseRecord = true

	var out []domain.ExperienceSample
	for row := 0; ; row++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("replay: read row %d: %w", row, err)
		}
		if row == 0 && rec[0] == "action" {
			continue
		}
		s, err := DecodeRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("replay: row %d: %w", row, err)
		}
		out = append(out, s)
	}
}

// SaveFile writes samples to a local CSV file.
func SaveFile(path string, samples []domain.ExperienceSample) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("replay: create %s: %w", path, err)
	}
	if err := WriteCSV(f, samples); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// LoadFile reads samples from a local CSV file.
func LoadFile(path string) ([]domain.ExperienceSample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("replay: open %s: %w", path, err)
	}
	defer f.Close()
	return ReadCSV(f)
}

func formatFloat(v float32) string {
	return strconv.FormatFloat(float64(v), 'g', -1, 32)
}

func parseFloat(s string) (float32, error) {
	f, err := strconv.ParseFloat(s, 32)
	if err != nil {
		return 0, fmt.Errorf("%q: %w", s, domain.ErrBadRecord)
	}
	return float32(f), nil
}
