package repl

// note: based off of csci1270-fall23
import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/chzyer/readline"
	"github.com/pkg/errors"
)

type REPL struct {
	Commands map[string]func(string, *REPLConfig) error
	Help     map[string]string
}

type REPLConfig struct {
	Writer io.Writer
}

func NewRepl() *REPL {
	r := &REPL{make(map[string]func(string, *REPLConfig) error), make(map[string]string)}
	return r
}

// Add a command, along with its help string, to the set of commands
func (r *REPL) AddCommand(trigger string, handler func(string, *REPLConfig) error, help string) {
	if trigger == "" || trigger[0] == '.' {
		return
	}
	r.Help[trigger] = help
	r.Commands[trigger] = handler
}

// Combine merges the commands of other repls into a new one
func Combine(repls ...*REPL) *REPL {
	r := NewRepl()
	for _, other := range repls {
		for trigger, handler := range other.Commands {
			r.AddCommand(trigger, handler, other.Help[trigger])
		}
	}
	return r
}

func (r *REPL) triggers() []string {
	triggers := make([]string, 0, len(r.Commands))
	for k := range r.Commands {
		triggers = append(triggers, k)
	}
	sort.Strings(triggers)
	return triggers
}

// Return all REPL usage information as a string
func (r *REPL) HelpString() string {
	var sb strings.Builder
	sb.WriteString("Commands\n")
	for _, k := range r.triggers() {
		sb.WriteString(fmt.Sprintf("\t%s: %s\n", k, r.Help[k]))
	}
	return sb.String()
}

// HandleLine runs a single line of input
func (r *REPL) HandleLine(line string, config *REPLConfig) {
	input := strings.TrimSpace(line)
	if input == "" {
		return
	}
	command := strings.Fields(input)[0]
	handler, ok := r.Commands[command]

	if !ok {
		io.WriteString(config.Writer, fmt.Sprintf("Invalid command: %s\n", command))
		io.WriteString(config.Writer, r.HelpString())
		return
	}
	if err := handler(input, config); err != nil {
		io.WriteString(config.Writer, fmt.Sprintf("Error: %v\n", err))
	}
}

// Run reads commands until EOF or ^C on an empty line
func (r *REPL) Run() error {
	items := make([]readline.PrefixCompleterInterface, 0, len(r.Commands))
	for _, k := range r.triggers() {
		items = append(items, readline.PcItem(k))
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "> ",
		AutoComplete:    readline.NewPrefixCompleter(items...),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return errors.Wrap(err, "starting line editor")
	}
	defer rl.Close()

	replConfig := &REPLConfig{Writer: rl.Stdout()}
	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				return nil
			}
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		r.HandleLine(line, replConfig)
	}
}
