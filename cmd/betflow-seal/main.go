package main

// Seals bookmaker and API credentials into the encrypted secrets file
// the agent loads at startup. Run once per host: the sealing key is
// derived from machine identity, so the output file is only readable on
// the machine that produced it.
//
// Credentials are read from the environment (a local .env works too):
// TELEGRAM_BOT_TOKEN, TELEGRAM_CHAT_ID, GEMINI_API_KEY,
// BOOKMAKER_USER, BOOKMAKER_PASS.

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"betflow/internal/config"
)

func main() {
	out := flag.String("out", "secrets.enc", "path of the sealed secrets file")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "no .env file, using process environment")
	}

	s := &config.Secrets{
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:   os.Getenv("TELEGRAM_CHAT_ID"),
		GeminiAPIKey:     os.Getenv("GEMINI_API_KEY"),
		BookmakerUser:    os.Getenv("BOOKMAKER_USER"),
		BookmakerPass:    os.Getenv("BOOKMAKER_PASS"),
	}
	if s.BookmakerUser == "" || s.BookmakerPass == "" {
		fmt.Fprintln(os.Stderr, "BOOKMAKER_USER and BOOKMAKER_PASS are required")
		os.Exit(1)
	}

	if err := config.SaveSecrets(*out, s); err != nil {
		fmt.Fprintln(os.Stderr, "seal secrets:", err)
		os.Exit(1)
	}
	fmt.Printf("sealed %s, bound to this machine\n", *out)
}
