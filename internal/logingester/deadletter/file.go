package deadletter

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/G-Research/logingester/pkg/logwriter"
)

// FileSink appends each dead-lettered batch to a file as a zstd frame holding one JSON entry per
// line. Concatenated frames form a valid zstd stream, so the file can be read back with ReadFile or
// `zstdcat`.
type FileSink struct {
	mu      sync.Mutex
	file    *os.File
	encoder *zstd.Encoder
	logger  *log.Entry
}

func NewFileSink(path string, logger *log.Entry) (*FileSink, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "error opening dead-letter file %s", path)
	}
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		_ = file.Close()
		return nil, errors.WithStack(err)
	}
	return &FileSink{file: file, encoder: encoder, logger: logger}, nil
}

func (s *FileSink) Accept(batch *logwriter.Batch, reason error) {
	if err := s.write(NewEntries(batch, reason)); err != nil {
		s.logger.WithError(err).WithField("batch", batch.ID).
			Errorf("Failed to write %d dead-lettered records to file", len(batch.Pending()))
	}
}

func (s *FileSink) write(entries []Entry) error {
	var buf bytes.Buffer
	if err := WriteEntries(&buf, entries); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	frame := s.encoder.EncodeAll(buf.Bytes(), nil)
	_, err := s.file.Write(frame)
	return errors.WithStack(err)
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.encoder.Close(); err != nil {
		return err
	}
	return s.file.Close()
}

// ReadFile returns every entry written to path by a FileSink.
func ReadFile(path string) ([]Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer file.Close()
	return ReadEntries(file)
}

func ReadEntries(r io.Reader) ([]Entry, error) {
	decoder, err := zstd.NewReader(r)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer decoder.Close()

	var entries []Entry
	scanner := bufio.NewScanner(decoder)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return nil, errors.Wrap(err, "corrupt dead-letter entry")
		}
		entries = append(entries, entry)
	}
	return entries, errors.WithStack(scanner.Err())
}

// WriteEntries writes entries to w as uncompressed JSON lines.
func WriteEntries(w io.Writer, entries []Entry) error {
	encoder := json.NewEncoder(w)
	for _, entry := range entries {
		if err := encoder.Encode(entry); err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}
