// Command econclient is an interactive terminal player for an econgames server.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/wfunc/econgames/client"
	"github.com/wfunc/econgames/logger"
	"github.com/wfunc/econgames/models"
)

const usage = `commands:
  games                     list available games
  create <game> <name...>   create a session
  tournament <game> <name>  create a tournament session
  join <session-id>         join a session
  start | shuffle | finish  host controls
  reset [clear]             start over, optionally clearing tournament results
  play <decision>           submit a decision for the current round
  board                     show the leaderboard
  show                      print the current game state
  leave | delete            leave or delete the current session
  quit`

func main() {
	var (
		serverURL string
		playerID  string
		name      string
		debug     bool
	)
	cmd := &cobra.Command{
		Use:   "econclient",
		Short: "Play econgames sessions from the terminal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := logger.Init(levelFor(debug), debug); err != nil {
				return err
			}
			defer logger.Sync()
			if playerID == "" {
				playerID = uuid.NewString()
			}
			if name == "" {
				name = playerID
			}
			return run(cmd.Context(), serverURL, client.StaticIdentity{ID: playerID, Name: name})
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "ws://localhost:8080/ws", "websocket endpoint")
	cmd.Flags().StringVar(&playerID, "player", "", "player id (random when empty)")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().BoolVar(&debug, "debug", false, "verbose logging")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := cmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func levelFor(debug bool) string {
	if debug {
		return "debug"
	}
	return "warn"
}

func run(ctx context.Context, serverURL string, id client.StaticIdentity) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	remote, err := client.Dial(dialCtx, serverURL, id)
	cancel()
	if err != nil {
		return fmt.Errorf("dial %s: %w", serverURL, err)
	}
	defer remote.Close()

	c := client.New(remote, id)
	defer c.Close()
	c.OnGameStateChange(func(gs *models.GameState) {
		if gs != nil {
			fmt.Printf("\n[%s] round %d/%d\n> ", gs.Status, gs.Round, gs.MaxRounds)
		}
	})

	fmt.Printf("Connected to %s as %s (%s)\n%s\n", serverURL, id.Name, id.ID, usage)
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		fmt.Print("> ")
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			fields := strings.Fields(line)
			if len(fields) == 0 {
				continue
			}
			if fields[0] == "quit" || fields[0] == "exit" {
				return nil
			}
			reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := execute(reqCtx, c, remote, fields)
			cancel()
			if err != nil {
				fmt.Println("error:", err)
			}
		}
	}
}

func execute(ctx context.Context, c *client.Client, remote *client.Remote, fields []string) error {
	arg := func(i int) string {
		if len(fields) > i {
			return fields[i]
		}
		return ""
	}
	switch fields[0] {
	case "games":
		list, err := remote.ListGames(ctx)
		if err != nil {
			return err
		}
		for _, g := range list {
			fmt.Printf("  %-20s %d-%d players  %s\n", g.ID, g.MinPlayers, g.MaxPlayers, g.Name)
		}
	case "create", "tournament":
		if len(fields) < 3 {
			return fmt.Errorf("usage: %s <game> <name>", fields[0])
		}
		s, err := c.CreateSession(ctx, strings.Join(fields[2:], " "), fields[1], fields[0] == "tournament")
		if err != nil {
			return err
		}
		fmt.Println("created session", s.ID)
	case "join":
		s, err := c.JoinSession(ctx, arg(1))
		if err != nil {
			return err
		}
		fmt.Printf("joined %q with %d players\n", s.Name, len(s.Players))
	case "start":
		return c.StartGame(ctx)
	case "shuffle":
		return c.ShuffleMatches(ctx)
	case "finish":
		return c.FinishGame(ctx)
	case "reset":
		return c.ResetGame(ctx, arg(1) == "clear")
	case "play":
		return c.SubmitDecision(ctx, models.Decision(strings.Join(fields[1:], " ")))
	case "board":
		board, err := c.Leaderboard(ctx)
		if err != nil {
			return err
		}
		for i, r := range board {
			fmt.Printf("  %d. %-16s %8s  W%d L%d D%d\n", i+1, r.DisplayName, strconv.FormatFloat(r.TotalScore, 'f', -1, 64), r.Wins, r.Losses, r.Draws)
		}
	case "show":
		show(c)
	case "leave":
		return c.LeaveSession(ctx)
	case "delete":
		s := c.Session()
		if s == nil {
			return fmt.Errorf("not in a session")
		}
		return c.DeleteSession(ctx, s.ID)
	default:
		fmt.Println(usage)
	}
	return nil
}

func show(c *client.Client) {
	s := c.Session()
	if s == nil {
		fmt.Println("not in a session")
		return
	}
	fmt.Printf("session %s %q (%s), %d players\n", s.ID, s.Name, s.Status, len(s.Players))
	gs := c.GetGameState()
	if gs == nil {
		return
	}
	fmt.Printf("game %s: %s, round %d of %d\n", s.GameData.GameID, gs.Status, gs.Round, gs.MaxRounds)
	for id, pd := range gs.PlayerData {
		mark := " "
		if pd.Ready {
			mark = "*"
		}
		fmt.Printf("  %s %-16s %v\n", mark, id, pd.TotalScore)
	}
}
