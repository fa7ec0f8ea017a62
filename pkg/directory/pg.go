package directory

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// ErrTeamNotFound is returned when no team owns the given phone number.
var ErrTeamNotFound = errors.New("directory: team not found")

// PGTeams resolves teams and agent personas from Postgres.
type PGTeams struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

func NewPGTeams(pool *pgxpool.Pool, log *slog.Logger) *PGTeams {
	if log == nil {
		log = slog.Default()
	}
	return &PGTeams{pool: pool, log: log}
}

// Migrate applies the embedded schema migrations.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func (p *PGTeams) Team(ctx context.Context, phone string) (*Team, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT team_id, client_name, phone_number, team_name FROM teams WHERE phone_number = $1`,
		phone)

	var t Team
	if err := row.Scan(&t.TeamID, &t.ClientName, &t.PhoneNumber, &t.TeamName); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTeamNotFound
		}
		return nil, fmt.Errorf("team lookup for %s: %w", phone, err)
	}
	return &t, nil
}

func (p *PGTeams) Agents(ctx context.Context, teamID, clientName string) ([]Agent, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT agent_name, personality, voice_model_en, voice_model_es, greetings_en, greetings_es
		 FROM agents WHERE team_id = $1`,
		teamID)
	if err != nil {
		return nil, fmt.Errorf("agents lookup for team %s: %w", teamID, err)
	}
	defer rows.Close()

	var agents []Agent
	for rows.Next() {
		var name, personality, voiceEN, voiceES, greetEN, greetES sql.NullString
		if err := rows.Scan(&name, &personality, &voiceEN, &voiceES, &greetEN, &greetES); err != nil {
			return nil, fmt.Errorf("scan agent row: %w", err)
		}
		agent := Agent{
			Name:        name.String,
			Personality: personality.String,
			Language:    "en",
			Voices: map[string]string{
				"en": voiceEN.String,
				"es": voiceES.String,
			},
			Greetings: map[string][]string{},
		}
		for lang, raw := range map[string]string{"en": greetEN.String, "es": greetES.String} {
			greetings, err := parseGreetings(raw, clientName)
			if err != nil {
				p.log.Warn("bad greeting templates", "agent", name.String, "lang", lang, "error", err)
				continue
			}
			agent.Greetings[lang] = greetings
		}
		agents = append(agents, agent)
	}
	return agents, rows.Err()
}

// parseGreetings decodes a stored greeting list and fills the {client}
// placeholder. The column may hold a JSON array or the Postgres text
// array spelling with curly braces.
func parseGreetings(raw, clientName string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if strings.HasPrefix(raw, "{") && strings.HasSuffix(raw, "}") {
		raw = "[" + raw[1:len(raw)-1] + "]"
	}
	var templates []string
	if err := json.Unmarshal([]byte(raw), &templates); err != nil {
		return nil, fmt.Errorf("decode greetings: %w", err)
	}
	out := make([]string, len(templates))
	for i, tpl := range templates {
		out[i] = strings.ReplaceAll(tpl, "{client}", clientName)
	}
	return out, nil
}
