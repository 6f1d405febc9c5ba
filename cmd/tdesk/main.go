package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ticketdesk/internal/app"
	"ticketdesk/internal/config"
	"ticketdesk/internal/db"
	"ticketdesk/internal/domain"
	"ticketdesk/internal/engine"
	"ticketdesk/internal/engine/auth"
	"ticketdesk/internal/repo"
	"ticketdesk/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "tdesk",
	Short: "Ticketdesk CLI",
	Long: `Ticketdesk hands sellable tickets to support agents and records sales.
- Admins create tickets and customers.
- Agents fetch a worklist: the allocator tops each agent up to the quota with the
  oldest unassigned tickets, and no ticket is ever held by two agents.
- A sale binds a held ticket to a customer and releases the hold.
- Every change is appended to the event log, view it with 'tdesk events tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if viper.GetString("driver") == "postgres" {
			return nil
		}
		_, err := db.EnsureWorkspace(viper.GetString("workspace"))
		return err
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TICKETDESK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().String("config", "", "config file (default <workspace>/ticketdesk.yml)")
	rootCmd.PersistentFlags().String("driver", "", "database driver: sqlite or postgres")
	rootCmd.PersistentFlags().String("dsn", "", "database DSN")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	for _, name := range []string{"workspace", "config", "driver", "dsn", "json"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(initCmd(), serveCmd(), migrateCmd(), seedCmd(), tokenCmd(), statsCmd(), worklistCmd(), sellCmd())

	configCmd := &cobra.Command{Use: "config", Short: "Inspect configuration"}
	configCmd.AddCommand(configShowCmd())
	rootCmd.AddCommand(configCmd)

	userCmd := &cobra.Command{Use: "user", Short: "Manage users"}
	userCmd.AddCommand(userCreateCmd(), userListCmd())
	rootCmd.AddCommand(userCmd)

	ticketCmd := &cobra.Command{Use: "ticket", Short: "Manage tickets"}
	ticketCmd.AddCommand(ticketCreateCmd(), ticketListCmd(), ticketShowCmd(), ticketDeleteCmd())
	rootCmd.AddCommand(ticketCmd)

	customerCmd := &cobra.Command{Use: "customer", Short: "Manage customers"}
	customerCmd.AddCommand(customerCreateCmd(), customerListCmd(), customerDeleteCmd())
	rootCmd.AddCommand(customerCmd)

	eventsCmd := &cobra.Command{Use: "events", Short: "Event log"}
	eventsCmd.AddCommand(eventsTailCmd())
	rootCmd.AddCommand(eventsCmd)
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default ticketdesk.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("Wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret != "" {
				cfg.Auth.JWTSecret = "********"
			}
			return printJSON(cfg)
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				fmt.Printf("Database up to date (%s)\n", a.Dialect)
				return nil
			})
		},
	}
}

func seedCmd() *cobra.Command {
	var admins, agents int
	var password string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create admin1..N and agent1..N accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				users, err := a.Engine.Seed(ctx, admins, agents, password)
				if err != nil {
					return err
				}
				return printUsers(users)
			})
		},
	}
	cmd.Flags().IntVar(&admins, "admins", 1, "number of admin accounts")
	cmd.Flags().IntVar(&agents, "agents", 4, "number of agent accounts")
	cmd.Flags().StringVar(&password, "password", "123", "password for every seeded account")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if addr == "" {
					addr = a.Config.Server.Addr
				}
				if !cmd.Flags().Changed("base-path") {
					basePath = a.Config.Server.BasePath
				}
				authCfg := server.AuthConfig{JWTSecret: viper.GetString("jwt-secret"), TokenTTL: a.Config.Auth.TokenTTL}
				if authCfg.JWTSecret == "" {
					authCfg.JWTSecret = a.Config.Auth.JWTSecret
				}
				if authCfg.JWTSecret == "" {
					secret, err := randomSecret()
					if err != nil {
						return err
					}
					authCfg.JWTSecret = secret
					a.Logger.Warn("no jwt secret configured, tokens will not survive a restart")
				}
				handler, err := server.New(server.Config{
					Engine:    a.Engine,
					Allocator: a.Allocator,
					Metrics:   a.Metrics,
					Logger:    a.Logger.With("component", "http"),
					BasePath:  basePath,
					Auth:      authCfg,
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				a.Logger.Info("serving ticketdesk API", "addr", addr, "base_path", basePath, "openapi", "/openapi.json", "docs", "/docs")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "/api", "API base path")
	cmd.Flags().String("jwt-secret", "", "HS256 signing secret (env TICKETDESK_JWT_SECRET)")
	_ = viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	return cmd
}

func tokenCmd() *cobra.Command {
	var username string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				u, err := lookupUser(ctx, a, username)
				if err != nil {
					return err
				}
				secret := viper.GetString("jwt-secret")
				if secret == "" {
					secret = a.Config.Auth.JWTSecret
				}
				token, expires, err := server.IssueToken(server.AuthConfig{JWTSecret: secret, TokenTTL: a.Config.Auth.TokenTTL}, u, time.Now())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"token": token, "expires_at": expires})
				}
				fmt.Println(token)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&username, "user", "", "username")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show ticket totals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				s, err := a.Engine.Stats(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Tickets", "Unassigned", "Assigned", "Sold"})
				tw.AppendRow(table.Row{s.Tickets, s.Unassigned, s.Assigned, s.Sold})
				tw.Render()
				return nil
			})
		},
	}
}

// --- users ---

func userCreateCmd() *cobra.Command {
	var opts engine.UserCreateOptions
	var role string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Role = domain.Role(role)
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				u, err := a.Engine.CreateUser(ctx, auth.System, opts)
				if err != nil {
					return err
				}
				return printUsers([]domain.User{u})
			})
		},
	}
	cmd.Flags().StringVar(&opts.Username, "username", "", "login name")
	cmd.Flags().StringVar(&opts.Password, "password", "", "password")
	cmd.Flags().StringVar(&opts.Name, "name", "", "display name")
	cmd.Flags().StringVar(&role, "role", string(domain.RoleAgent), "admin or support-agent")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func userListCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				users, err := a.Engine.ListUsers(ctx, auth.System, domain.Role(role))
				if err != nil {
					return err
				}
				return printUsers(users)
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "role filter")
	return cmd
}

func printUsers(users []domain.User) error {
	if viper.GetBool("json") {
		return printJSON(users)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Username", "Name", "Role"})
	for _, u := range users {
		tw.AppendRow(table.Row{u.ID, u.Username, u.Name, u.Role})
	}
	tw.Render()
	return nil
}

func lookupUser(ctx context.Context, a *app.App, username string) (domain.User, error) {
	u, err := a.Engine.Repo.GetUserByUsername(ctx, username)
	if errors.Is(err, repo.ErrNotFound) {
		return u, domain.NotFoundError{Resource: "user"}
	}
	return u, err
}

// --- tickets ---

func ticketCreateCmd() *cobra.Command {
	var opts engine.TicketCreateOptions
	var count int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create tickets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				var created []domain.Ticket
				for i := 1; i <= count; i++ {
					o := opts
					if count > 1 {
						o.Title = fmt.Sprintf("%s #%d", opts.Title, i)
					}
					t, err := a.Engine.CreateTicket(ctx, auth.System, o)
					if err != nil {
						return err
					}
					created = append(created, t)
				}
				return printTickets(created)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Title, "title", "", "ticket title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "ticket description")
	cmd.Flags().IntVar(&count, "count", 1, "number of tickets to create")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func ticketListCmd() *cobra.Command {
	var f repo.TicketFilters
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tickets",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch status {
			case "":
			case "sold":
				sold := true
				f.Sold = &sold
			case "unsold":
				sold := false
				f.Sold = &sold
			default:
				return domain.ValidationError{Field: "status", Reason: "must be sold or unsold"}
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if f.AssigneeID != "" {
					u, err := lookupUser(ctx, a, f.AssigneeID)
					if err != nil {
						return err
					}
					f.AssigneeID = u.ID
				}
				tickets, err := a.Engine.ListTickets(ctx, auth.System, f)
				if err != nil {
					return err
				}
				return printTickets(tickets)
			})
		},
	}
	cmd.Flags().StringVar(&f.AssigneeID, "assignee", "", "assignee username")
	cmd.Flags().StringVar(&status, "status", "", "sold or unsold")
	cmd.Flags().IntVar(&f.Limit, "limit", 100, "maximum rows")
	return cmd
}

func ticketShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a ticket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.GetTicket(ctx, auth.System, args[0])
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
}

func ticketDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a ticket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Engine.DeleteTicket(ctx, auth.System, args[0]); err != nil {
					return err
				}
				fmt.Println("Deleted", args[0])
				return nil
			})
		},
	}
}

func printTickets(tickets []domain.Ticket) error {
	if viper.GetBool("json") {
		return printJSON(tickets)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Title", "Assignee", "Buyer", "Created"})
	for _, t := range tickets {
		tw.AppendRow(table.Row{t.ID, t.Title, deref(t.AssigneeID), deref(t.BuyerID), t.CreatedAt.Format(time.RFC3339)})
	}
	tw.Render()
	return nil
}

// --- customers ---

func customerCreateCmd() *cobra.Command {
	var opts engine.CustomerCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a customer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				c, err := a.Engine.CreateCustomer(ctx, auth.System, opts)
				if err != nil {
					return err
				}
				return printCustomers([]domain.Customer{c})
			})
		},
	}
	cmd.Flags().StringVar(&opts.Name, "name", "", "customer name")
	cmd.Flags().StringVar(&opts.Email, "email", "", "customer email")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func customerListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List customers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				customers, err := a.Engine.ListCustomers(ctx, auth.System, limit)
				if err != nil {
					return err
				}
				return printCustomers(customers)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum rows")
	return cmd
}

func customerDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a customer without purchases",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Engine.DeleteCustomer(ctx, auth.System, args[0]); err != nil {
					return err
				}
				fmt.Println("Deleted", args[0])
				return nil
			})
		},
	}
}

func printCustomers(customers []domain.Customer) error {
	if viper.GetBool("json") {
		return printJSON(customers)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Name", "Email"})
	for _, c := range customers {
		tw.AppendRow(table.Row{c.ID, c.Name, c.Email})
	}
	tw.Render()
	return nil
}

// --- allocator ---

func worklistCmd() *cobra.Command {
	var agent string
	cmd := &cobra.Command{
		Use:   "worklist",
		Short: "Fetch an agent's worklist, claiming tickets up to the quota",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				u, err := lookupUser(ctx, a, agent)
				if err != nil {
					return err
				}
				if u.Role != domain.RoleAgent {
					return auth.ForbiddenError{Capability: auth.CapWorkTickets}
				}
				items, err := a.Allocator.FetchWorklist(ctx, u.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Created"})
				for _, t := range items {
					tw.AppendRow(table.Row{t.ID, t.Title, t.CreatedAt.Format(time.RFC3339)})
				}
				tw.AppendFooter(table.Row{"", fmt.Sprintf("%d tickets assigned", len(items)), ""})
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&agent, "agent", "", "agent username")
	_ = cmd.MarkFlagRequired("agent")
	return cmd
}

func sellCmd() *cobra.Command {
	var agent, ticketID, customerID string
	cmd := &cobra.Command{
		Use:   "sell",
		Short: "Sell a held ticket to a customer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				u, err := lookupUser(ctx, a, agent)
				if err != nil {
					return err
				}
				t, err := a.Allocator.CompleteSale(ctx, u.ID, ticketID, customerID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(t)
				}
				fmt.Printf("Ticket %s sold to %s\n", t.ID, deref(t.BuyerID))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&agent, "agent", "", "agent username")
	cmd.Flags().StringVar(&ticketID, "ticket", "", "ticket id")
	cmd.Flags().StringVar(&customerID, "customer", "", "customer id")
	_ = cmd.MarkFlagRequired("agent")
	return cmd
}

// --- events ---

func eventsTailCmd() *cobra.Command {
	var f repo.EventFilters
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				evts, err := a.Engine.LatestEvents(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(evts)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Time", "Type", "Entity", "Actor", "Payload"})
				for _, e := range evts {
					tw.AppendRow(table.Row{e.ID, e.TS.Format(time.RFC3339), e.Type, e.EntityKind + ":" + e.EntityID, e.ActorID, e.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&f.Limit, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	return cmd
}

// --- helpers ---

func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := viper.GetString("config"); path != "" {
		cfg, err = config.FromFile(path)
	} else {
		cfg, err = config.Load(viper.GetString("workspace"))
	}
	if err != nil {
		return nil, err
	}
	if v := viper.GetString("driver"); v != "" {
		cfg.Database.Driver = v
	}
	if v := viper.GetString("dsn"); v != "" {
		cfg.Database.DSN = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := app.Open(cfg, viper.GetString("workspace"), app.NewLogger(cfg, os.Stderr))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
