package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"supportchat/backend/internal/auth"
	"supportchat/backend/internal/chathub"
	"supportchat/backend/internal/config"
	"supportchat/backend/internal/delivery"
	"supportchat/backend/internal/handoff"
	"supportchat/backend/internal/models"
	"supportchat/backend/internal/storage"

	"github.com/redis/go-redis/v9"
)

const cliStaffID = "admin-cli"

func usage() {
	fmt.Println("Usage: admin <command> [args]")
	fmt.Println("  token <user_id> <role>                  mint a development token")
	fmt.Println("  requests [pending|accepted|resolved]    list support requests")
	fmt.Println("  resolve <request_id>                    resolve a request as admin")
	fmt.Println("  watch <base_url> <token> <conversation> follow a conversation live")
	os.Exit(1)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	switch os.Args[1] {
	case "token":
		if len(os.Args) != 4 {
			fmt.Println("Usage: admin token <user_id> <role>")
			os.Exit(1)
		}
		cfg := loadConfig()
		token, err := auth.NewTokenService(cfg.JWTSecret).Issue(os.Args[2], auth.Role(os.Args[3]), config.DevTokenTTL)
		if err != nil {
			log.Fatalf("Error issuing token: %v", err)
		}
		fmt.Println(token)

	case "requests":
		status := models.StatusPending
		if len(os.Args) > 2 {
			status = models.RequestStatus(os.Args[2])
		}
		if err := listRequests(openStore(loadConfig()), status); err != nil {
			log.Fatalf("Error listing requests: %v", err)
		}

	case "resolve":
		if len(os.Args) != 3 {
			fmt.Println("Usage: admin resolve <request_id>")
			os.Exit(1)
		}
		cfg := loadConfig()
		req, err := resolveRequest(cfg, openStore(cfg), os.Args[2])
		if err != nil {
			log.Fatalf("Error resolving request: %v", err)
		}
		fmt.Printf("Support request %s has been resolved.\n", req.ID)

	case "watch":
		if len(os.Args) != 5 {
			fmt.Println("Usage: admin watch <base_url> <token> <conversation_id>")
			os.Exit(1)
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		w := newWatcher(os.Args[2], os.Args[3], os.Args[4], os.Stdout)
		if err := w.Run(ctx); err != nil {
			log.Fatalf("Watch failed: %v", err)
		}

	default:
		fmt.Println("Unknown command")
		usage()
	}
}

func loadConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	return cfg
}

func openStore(cfg *config.Config) *storage.Service {
	db, err := storage.Open(cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	return storage.NewStorageService(db)
}

func listRequests(s storage.Storage, status models.RequestStatus) error {
	reqs, err := s.ListSupportRequests(context.Background(), status)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCONVERSATION\tCUSTOMER\tSTAFF\tCREATED")
	for _, r := range reqs {
		staff := "-"
		if r.StaffID != nil {
			staff = *r.StaffID
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.ConversationID, r.CustomerID, staff, r.CreatedAt.Format("2006-01-02 15:04"))
	}
	return tw.Flush()
}

// resolveRequest resolves through the hand-off service so connected clients
// hear about it. With Redis configured the event is relayed to the server
// nodes; without it the clients catch up on their next fetch.
func resolveRequest(cfg *config.Config, s storage.Storage, requestID string) (*models.SupportRequest, error) {
	var relay chathub.Relay
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer rdb.Close()
		relay = chathub.NewRedisRelay(rdb)
	}
	hub := chathub.NewManagerService(relay)
	chat := handoff.NewService(s, delivery.NewCoordinator(hub), hub)

	admin := auth.Identity{UserID: cliStaffID, Role: auth.RoleAdmin}
	return chat.Resolve(context.Background(), admin, requestID)
}
