package cr2

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultExec is the raw converter used when none is configured.
	DefaultExec = "dcraw"

	// DefaultCommand extracts the raw sensor data as a 16-bit PGM
	// document greymap on stdout: no rotation, no white balance, no
	// interpolation.
	DefaultCommand = "{exec} -t 0 -j -4 -W -D -d -c {file}"

	// DefaultTimeout bounds one converter run.
	DefaultTimeout = 2 * time.Minute
)

// ExternalDecoder runs an external raw converter (dcraw or compatible)
// and parses the PGM it writes to stdout. The command template is a
// whitespace-separated argument list where {exec} and {file} are
// replaced with the resolved binary and the input path.
type ExternalDecoder struct {
	Exec    string
	Command string
	Timeout time.Duration
	Log     logrus.FieldLogger
}

func (d *ExternalDecoder) exec() string {
	if d.Exec == "" {
		return DefaultExec
	}
	return d.Exec
}

// commandLine expands the template into an argv.
func (d *ExternalDecoder) commandLine(execPath, file string) []string {
	tmpl := d.Command
	if tmpl == "" {
		tmpl = DefaultCommand
	}
	fields := strings.Fields(tmpl)
	argv := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ReplaceAll(f, "{exec}", execPath)
		f = strings.ReplaceAll(f, "{file}", file)
		argv = append(argv, f)
	}
	return argv
}

// decode converts file through the external process. The process runs
// in its own group so that a timeout kills any children it spawned.
func (d *ExternalDecoder) decode(ctx context.Context, file string) (*RawImage, error) {
	log := d.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	execPath, err := exec.LookPath(d.exec())
	if err != nil {
		return nil, &DecoderUnavailableError{Exec: d.exec(), Err: err}
	}
	argv := d.commandLine(execPath, file)
	if len(argv) == 0 {
		return nil, &DecoderFailedError{Exec: d.exec(), Err: FormatError("empty decoder command")}
	}

	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log.WithFields(logrus.Fields{"argv": argv, "timeout": timeout}).Debug("running external decoder")

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, &DecoderUnavailableError{Exec: d.exec(), Err: err}
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		// Negative pid addresses the whole group.
		syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		<-done
		if ctx.Err() == context.DeadlineExceeded {
			return nil, &DecoderTimeoutError{Exec: d.exec(), Timeout: timeout}
		}
		return nil, ctx.Err()
	case err := <-done:
		if err != nil {
			return nil, &DecoderFailedError{
				Exec:   d.exec(),
				Stderr: strings.TrimSpace(stderr.String()),
				Err:    err,
			}
		}
	}

	img, err := decodePGM(&stdout)
	if err != nil {
		if _, short := err.(*ShortReadError); short {
			return nil, err
		}
		return nil, &DecoderFailedError{
			Exec:   d.exec(),
			Stderr: strings.TrimSpace(stderr.String()),
			Err:    err,
		}
	}
	return img, nil
}
