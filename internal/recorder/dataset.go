package recorder

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"example.com/repcount/internal/exercise"
)

// Header is the column order of the session dataset.
var Header = []string{"frame", "timestamp_ms", "elbow_angle", "hip_angle", "stage", "count", "feedback"}

// ErrMalformedDataset is returned when a dataset file does not match Header.
var ErrMalformedDataset = errors.New("malformed dataset")

// Complete writes the recorded frames to <dir>/<sessionID>.csv and returns the file path. The
// file is written to a temporary name first so a failed write never leaves a partial dataset.
func (r *Recorder) Complete(dir, sessionID string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create dataset dir: %w", err)
	}

	path := filepath.Join(dir, sessionID+".csv")
	tmp, err := os.CreateTemp(dir, sessionID+"-*.csv.tmp")
	if err != nil {
		return "", fmt.Errorf("create dataset: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := WriteDataset(tmp, r.Records()); err != nil {
		_ = tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close dataset: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("publish dataset: %w", err)
	}
	return path, nil
}

// WriteDataset writes records as CSV with a header row.
func WriteDataset(w io.Writer, records []FrameRecord) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(Header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, rec := range records {
		row := []string{
			strconv.Itoa(rec.Frame),
			formatFloat(rec.TimestampMS),
			formatFloat(rec.ElbowAngle),
			formatFloat(rec.HipAngle),
			string(rec.Stage),
			strconv.Itoa(rec.Count),
			rec.Feedback,
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("write frame %d: %w", rec.Frame, err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush dataset: %w", err)
	}
	return nil
}

// ReadDataset parses a dataset written by WriteDataset.
func ReadDataset(r io.Reader) ([]FrameRecord, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = len(Header)

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: missing header", ErrMalformedDataset)
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedDataset, err)
	}
	for i, name := range Header {
		if header[i] != name {
			return nil, fmt.Errorf("%w: column %d is %q, want %q", ErrMalformedDataset, i, header[i], name)
		}
	}

	var records []FrameRecord
	for line := 2; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedDataset, err)
		}
		rec, err := parseRow(row)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedDataset, line, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func parseRow(row []string) (FrameRecord, error) {
	var (
		rec FrameRecord
		err error
	)
	if rec.Frame, err = strconv.Atoi(row[0]); err != nil {
		return rec, err
	}
	if rec.TimestampMS, err = strconv.ParseFloat(row[1], 64); err != nil {
		return rec, err
	}
	if rec.ElbowAngle, err = strconv.ParseFloat(row[2], 64); err != nil {
		return rec, err
	}
	if rec.HipAngle, err = strconv.ParseFloat(row[3], 64); err != nil {
		return rec, err
	}
	rec.Stage = exercise.Stage(row[4])
	if rec.Count, err = strconv.Atoi(row[5]); err != nil {
		return rec, err
	}
	rec.Feedback = row[6]
	return rec, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
