package telemetry

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/gwillem/rtdecycle/pkg/motion"
)

// DefaultExportFile is the file name used when no export path is configured.
const DefaultExportFile = "robot_data_log.csv"

// ErrExport is returned when samples cannot be persisted or read back.
var ErrExport = errors.New("telemetry export failed")

// Columns is the fixed column order of the persisted table.
var Columns = []string{
	"Timestamp",
	"x", "y", "z", "rx", "ry", "rz",
	"Fx", "Fy", "Fz", "Frx", "Fry", "Frz",
}

// Series is the columnar form of a sample sequence, ready for plotting.
type Series struct {
	Time          []float64
	X, Y, Z       []float64
	RX, RY, RZ    []float64
	FX, FY, FZ    []float64
	FRX, FRY, FRZ []float64
}

// Len returns the number of points in the series.
func (s *Series) Len() int { return len(s.Time) }

// Column returns the values of a column by its table name, or nil.
func (s *Series) Column(name string) []float64 {
	switch name {
	case "Timestamp":
		return s.Time
	case "x":
		return s.X
	case "y":
		return s.Y
	case "z":
		return s.Z
	case "rx":
		return s.RX
	case "ry":
		return s.RY
	case "rz":
		return s.RZ
	case "Fx":
		return s.FX
	case "Fy":
		return s.FY
	case "Fz":
		return s.FZ
	case "Frx":
		return s.FRX
	case "Fry":
		return s.FRY
	case "Frz":
		return s.FRZ
	}
	return nil
}

// ToSeries converts samples to columns.
func ToSeries(samples []Sample) *Series {
	n := len(samples)
	s := &Series{
		Time: make([]float64, 0, n),
		X:    make([]float64, 0, n), Y: make([]float64, 0, n), Z: make([]float64, 0, n),
		RX: make([]float64, 0, n), RY: make([]float64, 0, n), RZ: make([]float64, 0, n),
		FX: make([]float64, 0, n), FY: make([]float64, 0, n), FZ: make([]float64, 0, n),
		FRX: make([]float64, 0, n), FRY: make([]float64, 0, n), FRZ: make([]float64, 0, n),
	}

	for _, smp := range samples {
		s.Time = append(s.Time, smp.Elapsed)
		s.X = append(s.X, smp.Pose[0])
		s.Y = append(s.Y, smp.Pose[1])
		s.Z = append(s.Z, smp.Pose[2])
		s.RX = append(s.RX, smp.Pose[3])
		s.RY = append(s.RY, smp.Pose[4])
		s.RZ = append(s.RZ, smp.Pose[5])
		s.FX = append(s.FX, smp.Force[0])
		s.FY = append(s.FY, smp.Force[1])
		s.FZ = append(s.FZ, smp.Force[2])
		s.FRX = append(s.FRX, smp.Force[3])
		s.FRY = append(s.FRY, smp.Force[4])
		s.FRZ = append(s.FRZ, smp.Force[5])
	}

	return s
}

// ToTable returns the header row followed by one row per sample.
func ToTable(samples []Sample) [][]string {
	rows := make([][]string, 0, len(samples)+1)
	rows = append(rows, append([]string(nil), Columns...))

	for _, s := range samples {
		row := make([]string, 0, len(Columns))
		row = append(row, formatFloat(s.Elapsed))
		for _, v := range s.Pose {
			row = append(row, formatFloat(v))
		}
		for _, v := range s.Force {
			row = append(row, formatFloat(v))
		}
		rows = append(rows, row)
	}

	return rows
}

// ParseTable reads rows produced by ToTable back into samples.
func ParseTable(rows [][]string) ([]Sample, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: missing header row", ErrExport)
	}
	if err := checkHeader(rows[0]); err != nil {
		return nil, err
	}

	samples := make([]Sample, 0, len(rows)-1)
	for i, row := range rows[1:] {
		if len(row) != len(Columns) {
			return nil, fmt.Errorf("%w: row %d has %d columns, want %d", ErrExport, i+1, len(row), len(Columns))
		}

		vals := make([]float64, len(row))
		for j, cell := range row {
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: row %d column %s: %v", ErrExport, i+1, Columns[j], err)
			}
			vals[j] = v
		}

		var s Sample
		s.Elapsed = vals[0]
		copy(s.Pose[:], vals[1:1+motion.Dims])
		copy(s.Force[:], vals[1+motion.Dims:])
		samples = append(samples, s)
	}

	return samples, nil
}

func checkHeader(header []string) error {
	if len(header) != len(Columns) {
		return fmt.Errorf("%w: header has %d columns, want %d", ErrExport, len(header), len(Columns))
	}
	for i, name := range Columns {
		if header[i] != name {
			return fmt.Errorf("%w: column %d is %q, want %q", ErrExport, i+1, header[i], name)
		}
	}
	return nil
}

// WriteCSV writes the table form of samples to w.
func WriteCSV(w io.Writer, samples []Sample) error {
	cw := csv.NewWriter(w)
	if err := cw.WriteAll(ToTable(samples)); err != nil {
		return fmt.Errorf("%w: %w", ErrExport, err)
	}
	return nil
}

// ReadCSV parses a table written by WriteCSV.
func ReadCSV(r io.Reader) ([]Sample, error) {
	rows, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExport, err)
	}
	return ParseTable(rows)
}

// Export writes samples to a CSV file at path. The samples slice is only read.
func Export(samples []Sample, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrExport, err)
	}

	if err := WriteCSV(f, samples); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %w", ErrExport, path, err)
	}
	return nil
}

// Load reads a CSV file written by Export.
func Load(path string) ([]Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExport, err)
	}
	defer f.Close()

	return ReadCSV(f)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
