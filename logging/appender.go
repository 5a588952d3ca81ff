package logging

import (
	"io"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// DefaultTimeFormatStr is the default time format string for log appenders.
const DefaultTimeFormatStr = "2006-01-02T15:04:05.000Z0700"

// Appender is an output for log entries. This is a subset of the `zapcore.Core` interface.
type Appender interface {
	// Write submits a structured log entry to the appender for logging.
	Write(zapcore.Entry, []zapcore.Field) error
	// Sync is for signaling that any buffered logs to `Write` should be flushed. E.g: at shutdown.
	Sync() error
}

// ConsoleAppender will create human readable logs that are written to the embedded
// `io.Writer`.
type ConsoleAppender struct {
	io.Writer
}

// NewStdoutAppender creates a new appender that outputs to stdout.
func NewStdoutAppender() ConsoleAppender {
	return ConsoleAppender{os.Stdout}
}

// NewWriterAppender creates a new appender that outputs to the input writer.
func NewWriterAppender(writer io.Writer) ConsoleAppender {
	return ConsoleAppender{writer}
}

// FileAppender writes console formatted entries to a size rotated file.
type FileAppender struct {
	ConsoleAppender
	logger *lumberjack.Logger
}

// NewFileAppender returns an appender rotating filename once it grows past maxSizeMB megabytes,
// keeping two compressed backups.
func NewFileAppender(filename string, maxSizeMB int) *FileAppender {
	logger := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    maxSizeMB,
		MaxBackups: 2,
		Compress:   true,
	}
	return &FileAppender{ConsoleAppender: ConsoleAppender{logger}, logger: logger}
}

// Close closes the current log file.
func (appender *FileAppender) Close() error {
	return appender.logger.Close()
}

// Write outputs the log entry to the underlying stream as a tab separated line: time, level,
// logger name, caller, message and the json encoded fields.
func (appender ConsoleAppender) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	const maxLength = 6
	toPrint := make([]string, 0, maxLength)
	toPrint = append(toPrint, entry.Time.Format(DefaultTimeFormatStr))
	toPrint = append(toPrint, strings.ToUpper(entry.Level.String()))
	toPrint = append(toPrint, entry.LoggerName)
	if entry.Caller.Defined {
		toPrint = append(toPrint, callerToString(&entry.Caller))
	}
	toPrint = append(toPrint, entry.Message)
	if len(fields) > 0 {
		encoded, err := encodeFields(fields)
		if err != nil {
			return err
		}
		toPrint = append(toPrint, encoded)
	}

	_, err := appender.Writer.Write([]byte(strings.Join(toPrint, "\t") + "\n"))
	return err
}

// Sync is a no-op.
func (appender ConsoleAppender) Sync() error {
	return nil
}

// encodeFields uses zap's json encoder which encodes the slice of fields in-order. It is
// called with an empty Entry such that only the fields become "map-ified".
func encodeFields(fields []zapcore.Field) (string, error) {
	jsonEncoder := zapcore.NewJSONEncoder(zapcore.EncoderConfig{SkipLineEnding: true})
	buf, err := jsonEncoder.EncodeEntry(zapcore.Entry{}, fields)
	if err != nil {
		return "", err
	}
	defer buf.Free()
	return buf.String(), nil
}

// callerToString returns "<dir>/<file>:<line>" for the caller.
func callerToString(caller *zapcore.EntryCaller) string {
	// The file returned by `runtime.Caller` is a full path and always contains '/' to separate
	// directories. Including on windows. We only want to keep the `<package>/<file>` part of the
	// path. We use `LastIndexByte` twice to avoid allocating a string slice.
	idx := strings.LastIndexByte(caller.File, '/')
	if idx == -1 {
		return caller.File + ":" + strconv.Itoa(caller.Line)
	}
	idx = strings.LastIndexByte(caller.File[:idx], '/')
	if idx == -1 {
		return caller.File + ":" + strconv.Itoa(caller.Line)
	}
	return caller.File[idx+1:] + ":" + strconv.Itoa(caller.Line)
}
