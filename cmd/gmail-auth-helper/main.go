package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"golang.org/x/oauth2"

	"jobmail/internal/config"
	"jobmail/internal/mailbox"
)

func main() {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	credentialsPath := cfg.GmailCredentialsJSONPath
	if len(os.Args) > 1 {
		credentialsPath = os.Args[1]
	}
	credentialsData, err := mailbox.ReadCredentials(cfg.GmailCredentialsJSON, credentialsPath)
	if err != nil {
		log.Fatalf("Usage: gmail-auth-helper [credentials.json]\n%v", err)
	}

	oauthCfg, err := mailbox.OAuthConfig(credentialsData)
	if err != nil {
		log.Fatalf("Failed to parse credentials: %v", err)
	}

	// Генерируем URL для авторизации; offline нужен для refresh token
	authURL := oauthCfg.AuthCodeURL("state-token", oauth2.AccessTypeOffline, oauth2.ApprovalForce)

	fmt.Printf("🔗 Gmail OAuth2 Authorization Helper\n")
	fmt.Printf("=====================================\n")
	fmt.Printf("Scope: %v\n\n", mailbox.Scopes)
	fmt.Printf("1. Open this URL in your browser:\n")
	fmt.Printf("   %s\n\n", authURL)
	fmt.Printf("2. Authorize the application\n")
	fmt.Printf("3. Copy the authorization code and enter it below\n\n")
	fmt.Printf("📝 Enter the authorization code: ")

	var authCode string
	if _, err := fmt.Scan(&authCode); err != nil {
		log.Fatalf("Failed to read authorization code: %v", err)
	}

	ctx := context.Background()
	token, err := oauthCfg.Exchange(ctx, authCode)
	if err != nil {
		log.Fatalf("Failed to exchange code for token: %v", err)
	}
	if err := mailbox.SaveToken(cfg.GmailTokenPath, token); err != nil {
		log.Fatalf("Failed to save token: %v", err)
	}

	fmt.Printf("\n✅ Token saved to %s\n", cfg.GmailTokenPath)
	if token.RefreshToken != "" {
		fmt.Printf("Optionally add to your .env file:\n\n")
		fmt.Printf("GMAIL_REFRESH_TOKEN='%s'\n\n", token.RefreshToken)
	}

	// Проверяем доступ: список ярлыков
	client, err := mailbox.New(ctx, oauthCfg.TokenSource(ctx, token), nil)
	if err != nil {
		log.Fatalf("Failed to create Gmail client: %v", err)
	}
	labels, err := client.Labels(ctx)
	if err != nil {
		log.Fatalf("Token obtained but listing labels failed: %v", err)
	}
	fmt.Printf("📂 Mailbox reachable, %d labels:\n", len(labels))
	for _, l := range labels {
		fmt.Printf("  - %s\n", l.Name)
	}
}
