package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/inkdrift/inkdrift/internal/agent"
	"github.com/inkdrift/inkdrift/internal/config"
	"github.com/inkdrift/inkdrift/internal/dependency"
	"github.com/inkdrift/inkdrift/internal/schema"
)

var (
	chatMessage string
	chatSystem  string
	chatTrace   bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the companion",
	RunE:  runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatMessage, "message", "m", "", "Send a single message and exit")
	chatCmd.Flags().StringVar(&chatSystem, "system", "", "Override the system prompt")
	chatCmd.Flags().BoolVar(&chatTrace, "trace", false, "Print tool activity for each reply")
}

const defaultSystemPrompt = "You are inkdrift, a thoughtful writing and research companion. Be concise and accurate."

var exitCommands = map[string]bool{
	"exit":  true,
	"quit":  true,
	"/exit": true,
	"/quit": true,
	":q":    true,
}

func runChat(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(config.ConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	container, err := dependency.New(cfg)
	if err != nil {
		return err
	}
	runner := container.TurnRunner()

	sysPrompt := defaultSystemPrompt
	if chatSystem != "" {
		sysPrompt = chatSystem
	}
	history := schema.NewMessages(schema.NewSystemMessage(sysPrompt))

	if chatMessage != "" {
		return runSingleMessage(runner, history, chatMessage)
	}
	return runInteractive(runner, history)
}

// runSingleMessage sends one message and prints the response.
func runSingleMessage(runner *agent.TurnRunner, history schema.Messages, message string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	history.Append(schema.NewMessages(schema.NewUserMessage(message)))
	fmt.Fprintf(os.Stderr, "  ↳ thinking...\n")

	res, err := runner.RunTurn(ctx, history)
	if err != nil {
		return err
	}
	printTrace(res)
	printResponse(res.Text)
	return nil
}

// runInteractive starts the REPL loop: each line becomes a user turn and the
// reply is appended to the running history.
func runInteractive(runner *agent.TurnRunner, history schema.Messages) error {
	fmt.Printf("%s Interactive mode (type 'exit' or Ctrl+C to quit)\n\n", logo)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	listenForSignals(cancel)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("You: ")

		if !scanner.Scan() {
			fmt.Println("\nGoodbye!")
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if exitCommands[strings.ToLower(line)] {
			fmt.Println("Goodbye!")
			return nil
		}

		history.AddUser(line)
		res, err := runner.RunTurn(ctx, history)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		printTrace(res)
		printResponse(res.Text)
		history.AddAssistant(&res.Text, nil, nil)
	}
}

// listenForSignals cancels ctx on SIGINT or SIGTERM and exits.
func listenForSignals(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nGoodbye!")
		cancel()
		os.Exit(0)
	}()
}

func printTrace(res agent.TurnResult) {
	if !chatTrace {
		return
	}
	for _, t := range res.Trace {
		fmt.Fprintf(os.Stderr, "  ↳ %s(%s)\n", t.Name, t.Args)
	}
}

func printResponse(text string) {
	fmt.Printf("\n%s inkdrift\n%s\n\n", logo, text)
}
