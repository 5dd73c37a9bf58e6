package gvio

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Exporter defines an export interface.
type Exporter interface {
	Write(Estimate) error
	Close() error
}

// StateHeaders are the column names of an Estimate state.
var StateHeaders = []string{
	"roll", "pitch", "yaw",
	"bg_x", "bg_y", "bg_z",
	"v_x", "v_y", "v_z",
	"ba_x", "ba_y", "ba_z",
	"p_x", "p_y", "p_z",
}

// CSVExporter writes one line per estimate with the ±2σ bounds of every state.
type CSVExporter struct {
	delimiter string
	hdlr      *os.File
}

// Close closes the file.
func (e CSVExporter) Close() (err error) {
	err = e.WriteRawLn(fmt.Sprintf("# Closing date (UTC): %s", time.Now().UTC()))
	if err != nil {
		return
	}
	return e.hdlr.Close()
}

// Write writes the estimate to the CSV file.
func (e CSVExporter) Write(est Estimate) error {
	x := est.State()
	P := est.Covariance()
	r := x.Len()
	vals := make([]string, 0, r*3+1)
	vals = append(vals, fmt.Sprintf("%d", est.Timestamp()))
	for i := 0; i < r; i++ {
		covar := 2 * math.Sqrt(P.At(i, i))
		vals = append(vals, fmt.Sprintf("%f", x.AtVec(i)), fmt.Sprintf("%f", covar), fmt.Sprintf("%f", -1*covar))
	}
	_, err := e.hdlr.WriteString(strings.Join(vals, e.delimiter) + "\n")
	return err
}

// WriteRawLn writes a raw line to the CSV file.
func (e CSVExporter) WriteRawLn(s string) error {
	_, err := e.hdlr.WriteString(s + "\n")
	return err
}

// NewCSVExporter initializes a new CSV export of estimates with the provided state
// headers, usually StateHeaders.
func NewCSVExporter(headers []string, dir, filename string) (*CSVExporter, error) {
	f, err := os.Create(filepath.Join(dir, filename))
	if err != nil {
		return nil, errors.Wrap(err, "could not create trace")
	}
	delimiter := ","
	hdr := make([]string, 0, len(headers)*3+1)
	hdr = append(hdr, "t")
	for _, h := range headers {
		hdr = append(hdr, h, h+"+2s", h+"-2s")
	}
	if _, err := f.WriteString(fmt.Sprintf("# Creation date (UTC): %s\n%s\n", time.Now().UTC(), strings.Join(hdr, delimiter))); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "could not write trace header")
	}
	return &CSVExporter{delimiter, f}, nil
}

// SaveCameraStates writes one p_x,p_y,p_z,q_x,q_y,q_z,q_w line per camera state, in
// window order.
func SaveCameraStates(states []CameraState, path string) error {
	f, err := os.Create(filepath.Clean(path))
	if err != nil {
		return errors.Wrap(err, "could not create camera states file")
	}
	var b strings.Builder
	for _, cs := range states {
		fmt.Fprintf(&b, "%f,%f,%f,%f,%f,%f,%f\n", cs.PG.X, cs.PG.Y, cs.PG.Z, cs.QCG[0], cs.QCG[1], cs.QCG[2], cs.QCG[3])
	}
	if _, err := f.WriteString(b.String()); err != nil {
		f.Close()
		return errors.Wrap(err, "could not write camera states")
	}
	return f.Close()
}
