package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"shmipe/pkg/pipeclient"
	"shmipe/pkg/pipeconfig"

	flag "github.com/spf13/pflag"
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage: pipecat [--socket <path>] read [--count N] | write | stat")
	flag.PrintDefaults()
}

func main() {
	socket := flag.String("socket", pipeconfig.DefaultSocketPath, "unix socket of the pipe service")
	count := flag.Int("count", 1, "number of reads before exiting, 0 reads until interrupted")
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() != 1 {
		usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	client, err := pipeclient.Dial(*socket)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pipecat: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	switch flag.Arg(0) {
	case "read":
		err = read(ctx, client, *count)
	case "write":
		err = write(ctx, client)
	case "stat":
		err = stat(ctx, client)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "pipecat: %v\n", err)
		os.Exit(1)
	}
}

func read(ctx context.Context, client *pipeclient.Client, count int) error {
	for i := 0; count == 0 || i < count; i++ {
		data, err := client.Read(ctx, int(client.Capacity()))
		if err != nil {
			return err
		}
		if _, err := os.Stdout.Write(data); err != nil {
			return err
		}
		if client.IsRoot() {
			return nil
		}
	}
	return nil
}

func write(ctx context.Context, client *pipeclient.Client) error {
	buf := make([]byte, client.Capacity())
	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			if _, werr := client.WriteAll(ctx, buf[:n]); werr != nil {
				return werr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func stat(ctx context.Context, client *pipeclient.Client) error {
	s, err := client.Stat(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("identity %d: openers=%d unread=%d free=%d capacity=%d waiters=%d\n",
		s.Identity, s.Openers, s.Occupancy, s.FreeSpace, s.Capacity, s.Waiters)
	return nil
}
