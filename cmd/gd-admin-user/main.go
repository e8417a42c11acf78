package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/tkf27/gdbot-admin/pkg/auth"
	"github.com/tkf27/gdbot-admin/pkg/config"
	"github.com/tkf27/gdbot-admin/pkg/observability"
	"github.com/tkf27/gdbot-admin/pkg/storage"
)

// PasswordEnv supplies the password non-interactively
const PasswordEnv = "GDADMIN_ADMIN_PASSWORD"

func main() {
	configPath := flag.String("config", "", "Path to YAML config file (default: $GDADMIN_CONFIG)")
	username := flag.String("username", "", "Administrator username")
	role := flag.String("role", string(auth.RoleAdmin), "Administrator role (admin or viewer)")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	name := strings.TrimSpace(*username)
	if name == "" {
		logger.Fatal("-username is required")
	}

	password, err := readPassword()
	if err != nil {
		logger.WithError(err).Fatal("Failed to read password")
	}

	ctx := context.Background()
	dbCfg := cfg.StorageConfig()
	dbCfg.AutoMigrate = true
	db, err := storage.Open(ctx, dbCfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open database")
	}
	defer db.Close()

	admin, err := auth.NewSQLCredentialStore(db).Create(ctx, name, password, auth.Role(*role))
	if err != nil {
		logger.WithError(err).Fatal("Failed to create administrator")
	}

	logger.WithField("username", admin.Username).WithField("role", admin.Role).Info("Administrator created")
}

// readPassword takes the password from the environment, or the first line of stdin
func readPassword() (string, error) {
	if password := os.Getenv(PasswordEnv); password != "" {
		return password, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", fmt.Errorf("password must not be empty")
	}
	return password, nil
}
