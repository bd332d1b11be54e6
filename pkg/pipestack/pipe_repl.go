package pipestack

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"shmipe/pkg/repl"
)

const DEFAULT_CONSOLE_TIMEOUT = time.Second

// handles opened from the console
type console struct {
	p       *PipeGlobalInfo
	mu      sync.Mutex
	handles map[int]VPipe
	next    int
}

func PipeRepl(p *PipeGlobalInfo) *repl.REPL {
	c := &console{p: p, handles: make(map[int]VPipe)}
	r := repl.NewRepl()
	r.AddCommand("ls", lsHandler(p), "Lists all channels. usage: ls")
	r.AddCommand("stat", statHandler(p), "Prints one channel. usage: stat <identity>")
	r.AddCommand("open", c.openHandler(), "Opens the pipe as the given identity. usage: open <identity>")
	r.AddCommand("handles", c.handlesHandler(), "Lists handles opened from this console. usage: handles")
	r.AddCommand("w", c.writeHandler(), "Writes text to a handle. usage: w <handle> <text>")
	r.AddCommand("r", c.readHandler(), "Reads from a handle, giving up after the timeout. usage: r <handle> [timeout]")
	r.AddCommand("cl", c.closeHandler(), "Closes a handle. usage: cl <handle>")
	return r
}

func parseIdentity(s string) (Identity, error) {
	id, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid identity %q", s)
	}
	return Identity(id), nil
}

func (c *console) lookup(s string) (int, VPipe, error) {
	num, err := strconv.Atoi(s)
	if err != nil {
		return 0, nil, fmt.Errorf("invalid handle %q", s)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.handles[num]
	if !ok {
		return 0, nil, fmt.Errorf("no handle %d", num)
	}
	return num, h, nil
}

func lsHandler(p *PipeGlobalInfo) func(string, *repl.REPLConfig) error {
	return func(input string, config *repl.REPLConfig) error {
		args := strings.Fields(input)
		if len(args) != 1 {
			return fmt.Errorf("usage: ls")
		}

		_, err := io.WriteString(config.Writer, "ID\tOpeners\tUnread\tFree\tWaiters\n")
		if err != nil {
			return fmt.Errorf("lsHandler cannot write the header to stdout")
		}
		for _, channelInfo := range GetChannelTableString(p) {
			_, err := io.WriteString(config.Writer, channelInfo)
			if err != nil {
				return fmt.Errorf("lsHandler cannot write channels to stdout")
			}
		}
		return nil
	}
}

func statHandler(p *PipeGlobalInfo) func(string, *repl.REPLConfig) error {
	return func(input string, config *repl.REPLConfig) error {
		args := strings.Fields(input)
		if len(args) != 2 {
			return fmt.Errorf("usage: stat <identity>")
		}
		id, err := parseIdentity(args[1])
		if err != nil {
			return err
		}
		if id == p.privileged {
			_, err = fmt.Fprintf(config.Writer, "%d is the privileged identity and has no channel\n", id)
			return err
		}
		s, ok := p.Stat(id)
		if !ok {
			return fmt.Errorf("no channel for identity %d", id)
		}
		_, err = fmt.Fprintf(config.Writer, "identity %d: openers=%d unread=%d free=%d capacity=%d waiters=%d\n",
			s.Identity, s.Openers, s.Occupancy, s.FreeSpace, s.Capacity, s.Waiters)
		return err
	}
}

func (c *console) openHandler() func(string, *repl.REPLConfig) error {
	return func(input string, config *repl.REPLConfig) error {
		args := strings.Fields(input)
		if len(args) != 2 {
			return fmt.Errorf("usage: open <identity>")
		}
		id, err := parseIdentity(args[1])
		if err != nil {
			return err
		}
		h, err := VOpen(c.p, id)
		if err != nil {
			return err
		}
		c.mu.Lock()
		num := c.next
		c.next++
		c.handles[num] = h
		c.mu.Unlock()
		_, err = fmt.Fprintf(config.Writer, "Opened handle %d for identity %d\n", num, id)
		return err
	}
}

func (c *console) handlesHandler() func(string, *repl.REPLConfig) error {
	return func(input string, config *repl.REPLConfig) error {
		c.mu.Lock()
		nums := make([]int, 0, len(c.handles))
		for num := range c.handles {
			nums = append(nums, num)
		}
		sort.Ints(nums)
		lines := make([]string, len(nums))
		for i, num := range nums {
			lines[i] = fmt.Sprintf("%d\t%v\n", num, c.handles[num])
		}
		c.mu.Unlock()

		if _, err := io.WriteString(config.Writer, "Handle\tBinding\n"); err != nil {
			return err
		}
		for _, line := range lines {
			if _, err := io.WriteString(config.Writer, line); err != nil {
				return err
			}
		}
		return nil
	}
}

func (c *console) writeHandler() func(string, *repl.REPLConfig) error {
	return func(input string, config *repl.REPLConfig) error {
		args := strings.SplitN(input, " ", 3)
		if len(args) != 3 {
			return fmt.Errorf("usage: w <handle> <text>")
		}
		_, h, err := c.lookup(args[1])
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), DEFAULT_CONSOLE_TIMEOUT)
		defer cancel()
		n, err := h.VWrite(ctx, []byte(args[2]))
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(config.Writer, "Wrote %d bytes\n", n)
		return err
	}
}

func (c *console) readHandler() func(string, *repl.REPLConfig) error {
	return func(input string, config *repl.REPLConfig) error {
		args := strings.Fields(input)
		if len(args) != 2 && len(args) != 3 {
			return fmt.Errorf("usage: r <handle> [timeout]")
		}
		_, h, err := c.lookup(args[1])
		if err != nil {
			return err
		}
		timeout := DEFAULT_CONSOLE_TIMEOUT
		if len(args) == 3 {
			timeout, err = time.ParseDuration(args[2])
			if err != nil {
				return err
			}
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		data, err := h.VRead(ctx, int(c.p.capacity))
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(config.Writer, "Read %d bytes: %s\n", len(data), data)
		return err
	}
}

func (c *console) closeHandler() func(string, *repl.REPLConfig) error {
	return func(input string, config *repl.REPLConfig) error {
		args := strings.Fields(input)
		if len(args) != 2 {
			return fmt.Errorf("usage: cl <handle>")
		}
		num, h, err := c.lookup(args[1])
		if err != nil {
			return err
		}
		c.mu.Lock()
		delete(c.handles, num)
		c.mu.Unlock()
		return h.VClose()
	}
}
