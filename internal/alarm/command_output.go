package alarm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
)

const (
	fileArg   = "{file}"
	volumeArg = "{volume}"
)

// CommandOutput plays sounds by running an external player command, once per
// loop iteration, until stopped.
//
// Occurrences of {file} and {volume} in arguments are substituted. The command also
// sees SIREN_SOUND and SIREN_VOLUME in its environment. If no argument names
// {file}, the path is appended.
type CommandOutput struct {
	argv   []string
	logger *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewCommandOutput creates an output running argv
func NewCommandOutput(argv []string, logger *zap.Logger) *CommandOutput {
	return &CommandOutput{
		argv:   append([]string(nil), argv...),
		logger: logger.Named("alarm.command"),
	}
}

// PlayLoop stops any current playback and starts looping path
func (o *CommandOutput) PlayLoop(path string, volumePercent int) error {
	if len(o.argv) == 0 {
		return errors.New("no audio command configured")
	}
	if _, err := exec.LookPath(o.argv[0]); err != nil {
		return fmt.Errorf("audio command %q: %w", o.argv[0], err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopLocked()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	o.cancel = cancel
	o.done = done

	args := o.buildArgs(path, volumePercent)
	env := append(os.Environ(),
		"SIREN_SOUND="+path,
		"SIREN_VOLUME="+strconv.Itoa(volumePercent))

	go o.loop(ctx, done, args, env)
	return nil
}

// Stop ends playback and waits for the running command to exit
func (o *CommandOutput) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopLocked()
	return nil
}

func (o *CommandOutput) stopLocked() {
	if o.cancel == nil {
		return
	}
	o.cancel()
	<-o.done
	o.cancel = nil
	o.done = nil
}

func (o *CommandOutput) buildArgs(path string, volumePercent int) []string {
	args := make([]string, 0, len(o.argv)+1)
	hasFile := false
	for _, arg := range o.argv {
		if strings.Contains(arg, fileArg) {
			hasFile = true
			arg = strings.ReplaceAll(arg, fileArg, path)
		}
		args = append(args, strings.ReplaceAll(arg, volumeArg, strconv.Itoa(volumePercent)))
	}
	if !hasFile && !isShellInvocation(o.argv) {
		args = append(args, path)
	}
	return args
}

// isShellInvocation reports whether argv is "sh -c <script>", which reads the
// file from its environment
func isShellInvocation(argv []string) bool {
	return len(argv) == 3 && strings.HasSuffix(argv[0], "sh") && argv[1] == "-c"
}

// loop replays the command until ctx is cancelled or an iteration fails
func (o *CommandOutput) loop(ctx context.Context, done chan struct{}, args, env []string) {
	defer close(done)

	for iteration := 1; ; iteration++ {
		cmd := exec.CommandContext(ctx, args[0], args[1:]...)
		cmd.Env = env

		err := cmd.Run()
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			o.logger.Error("Audio command failed, giving up",
				zap.Strings("args", args),
				zap.Int("iteration", iteration),
				zap.Error(err))
			return
		}
		o.logger.Debug("Audio command finished, looping", zap.Int("iteration", iteration))
	}
}
