// Package logs implements the log access use case.
package logs

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/bnema/zerowrap"

	"github.com/bnema/odoobackup/internal/boundaries/in"
	"github.com/bnema/odoobackup/internal/domain"
)

// DefaultLines is how many lines the log viewer shows.
const DefaultLines = 1000

const followPollInterval = 100 * time.Millisecond

var _ in.LogService = (*Service)(nil)

// Service reads the process log file written by the application logger.
type Service struct {
	logFilePath string
	log         zerowrap.Logger
}

// NewService creates a new log service.
func NewService(logFilePath string, log zerowrap.Logger) *Service {
	return &Service{
		logFilePath: logFilePath,
		log:         log,
	}
}

// GetProcessLogs returns the last N lines of the process log with their level.
func (s *Service) GetProcessLogs(ctx context.Context, lines int) ([]domain.LogLine, error) {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "usecase",
		zerowrap.FieldUseCase: "GetProcessLogs",
		"lines":               lines,
	})
	log := zerowrap.FromCtx(ctx)

	if s.logFilePath == "" {
		return nil, fmt.Errorf("log file path not configured")
	}

	file, err := os.Open(s.logFilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []domain.LogLine{}, nil
		}
		return nil, log.WrapErr(err, "failed to open log file")
	}
	defer file.Close()

	raw, err := tailLines(file, lines)
	if err != nil {
		return nil, log.WrapErr(err, "failed to read log file")
	}
	return classify(raw), nil
}

// FollowProcessLogs streams the last initialLines lines and then every new
// line until ctx ends.
func (s *Service) FollowProcessLogs(ctx context.Context, initialLines int) (<-chan domain.LogLine, error) {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "usecase",
		zerowrap.FieldUseCase: "FollowProcessLogs",
		"initial_lines":       initialLines,
	})
	log := zerowrap.FromCtx(ctx)

	if s.logFilePath == "" {
		return nil, fmt.Errorf("log file path not configured")
	}

	file, err := os.Open(s.logFilePath)
	if err != nil {
		return nil, log.WrapErr(err, "failed to open log file")
	}

	ch := make(chan domain.LogLine, 100)

	go func() {
		defer close(ch)
		defer file.Close()

		// tailLines leaves the offset at the end of the file.
		if initialLines > 0 {
			lines, err := tailLines(file, initialLines)
			if err != nil {
				log.Warn().Err(err).Msg("failed to read initial lines")
				return
			}
			for _, line := range classify(lines) {
				select {
				case ch <- line:
				case <-ctx.Done():
					return
				}
			}
		} else if _, err := file.Seek(0, io.SeekEnd); err != nil {
			log.Warn().Err(err).Msg("failed to seek to end")
			return
		}

		reader := bufio.NewReader(file)
		var pending string
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			chunk, err := reader.ReadString('\n')
			pending += chunk
			if err == io.EOF {
				time.Sleep(followPollInterval)
				continue
			}
			if err != nil {
				log.Warn().Err(err).Msg("error reading log file")
				return
			}

			text := strings.TrimRight(pending, "\n\r")
			pending = ""
			select {
			case ch <- domain.LogLine{Text: text, Level: domain.DetectLogLevel(text)}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch, nil
}

func classify(lines []string) []domain.LogLine {
	out := make([]domain.LogLine, len(lines))
	for i, l := range lines {
		out[i] = domain.LogLine{Text: l, Level: domain.DetectLogLevel(l)}
	}
	return out
}

// tailLines reads the last N lines from a file using a ring buffer.
func tailLines(file *os.File, n int) ([]string, error) {
	if n <= 0 {
		return []string{}, nil
	}

	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	buffer := make([]string, n)
	index := 0
	total := 0

	for scanner.Scan() {
		buffer[index] = scanner.Text()
		index = (index + 1) % n
		total++
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if total <= n {
		return buffer[:total], nil
	}

	result := make([]string, n)
	for i := 0; i < n; i++ {
		result[i] = buffer[(index+i)%n]
	}
	return result, nil
}
