package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/stemsi/classroom-exam/internal/config"
	"github.com/stemsi/classroom-exam/internal/database"
	"github.com/stemsi/classroom-exam/internal/logger"
	"github.com/stemsi/classroom-exam/internal/model"
	"github.com/stemsi/classroom-exam/internal/repository"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	teachers := repository.NewTeacherRepository(pool)

	// ─── CLI Input ─────────────────────────────────────────────────────
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("=== Create Teacher Account ===")

	fmt.Print("Enter Name: ")
	name, _ := reader.ReadString('\n')
	name = strings.TrimSpace(name)
	if name == "" {
		fmt.Println("Error: Name is required")
		return
	}

	fmt.Print("Enter Email: ")
	email, _ := reader.ReadString('\n')
	email = strings.TrimSpace(email)
	if !strings.Contains(email, "@") {
		fmt.Println("Error: A valid email is required")
		return
	}

	fmt.Print("Enter Password: ")
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		fmt.Println("Error reading password")
		return
	}
	password := string(bytePassword)
	if len(password) < 6 || len(password) > 72 {
		fmt.Println("Error: Password must be 6 to 72 characters")
		return
	}

	// ─── Logic ─────────────────────────────────────────────────────────
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cfg.BcryptCost)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to hash password")
	}

	teacher := &model.Teacher{
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
		Role:         model.RoleTeacher,
	}
	if err := teachers.Create(ctx, teacher); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			fmt.Printf("Error: %s is already registered\n", email)
			return
		}
		log.Fatal().Err(err).Msg("Failed to create teacher")
	}

	fmt.Printf("\nSuccess! Teacher '%s' (%s) created with ID: %s\n", teacher.Name, teacher.Email, teacher.ID)
}
