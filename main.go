package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"time"

	openaisdk "github.com/openai/openai-go"
	"github.com/rs/zerolog/log"

	"github.com/malachide2/CareWallet-Chatbot/agent/conversation"
	"github.com/malachide2/CareWallet-Chatbot/agent/generate"
	"github.com/malachide2/CareWallet-Chatbot/agent/ledger"
	"github.com/malachide2/CareWallet-Chatbot/agent/prompt"
	"github.com/malachide2/CareWallet-Chatbot/agent/retrieve"
	"github.com/malachide2/CareWallet-Chatbot/agent/roster"
	"github.com/malachide2/CareWallet-Chatbot/agent/tool"
	"github.com/malachide2/CareWallet-Chatbot/pkg/config"
	logx "github.com/malachide2/CareWallet-Chatbot/pkg/logger"
	"github.com/malachide2/CareWallet-Chatbot/pkg/openrouter"
)

// errStdinClosed ends the whole call batch: with no input left there is
// nobody to answer the remaining calls.
var errStdinClosed = errors.New("stdin closed")

func main() {
	logx.Init(*config.MustNew[logx.Config]("LOG"))

	if err := run(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("scheduling run failed")
	}
}

func run(ctx context.Context) error {
	genCfg := config.MustNew[generate.Config]("OPENROUTER")
	policy := config.MustNew[roster.Policy]("CHECKUP")
	pgCfg := config.MustNew[ledger.PostgresConfig]("POSTGRES")

	referenceDate := time.Now()
	rng := rand.New(rand.NewSource(referenceDate.UnixNano()))

	led, cleanup, err := buildLedger(ctx, *pgCfg, referenceDate, rng)
	if err != nil {
		return fmt.Errorf("build ledger: %w", err)
	}
	defer cleanup()

	snap, err := led.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("snapshot ledger: %w", err)
	}
	index, err := retrieve.NewIndex(ctx, retrieve.NewHashingEmbedder(0), retrieve.BuildCorpus(snap))
	if err != nil {
		return fmt.Errorf("build retrieval index: %w", err)
	}
	dispatcher, err := tool.NewDispatcher(index, led)
	if err != nil {
		return fmt.Errorf("build dispatcher: %w", err)
	}

	client := openrouter.NewClient(genCfg.OpenRouter())
	if client == nil {
		return errors.New("openrouter client requires an api key")
	}

	due, err := roster.Select(ctx, led, *policy, referenceDate)
	if err != nil {
		return err
	}
	if len(due) == 0 {
		log.Info().Msg("no patients due for a checkup call")
		return nil
	}
	log.Info().Strs("patients", due).Msg("starting checkup calls")

	stdin := bufio.NewScanner(os.Stdin)
	for _, patient := range due {
		err := runCall(ctx, client, *genCfg, dispatcher, stdin, patient, referenceDate)
		if errors.Is(err, errStdinClosed) {
			log.Info().Str("patient", patient).Msg("input closed, ending call batch")
			return nil
		}
		if err != nil {
			log.Error().Err(err).Str("patient", patient).Msg("call aborted")
		}
	}
	return nil
}

func buildLedger(ctx context.Context, cfg ledger.PostgresConfig, referenceDate time.Time, rng *rand.Rand) (ledger.Ledger, func(), error) {
	mem, err := ledger.SeedMemoryLedger(referenceDate, rng)
	if err != nil {
		return nil, nil, err
	}
	if strings.TrimSpace(cfg.DSN) == "" {
		return mem, func() {}, nil
	}

	pg, err := ledger.NewPostgresLedger(cfg, ledger.NewWindow(referenceDate))
	if err != nil {
		return nil, nil, err
	}
	snap, err := mem.Snapshot(ctx)
	if err != nil {
		pg.Close()
		return nil, nil, err
	}
	if err := pg.Init(ctx, snap); err != nil {
		pg.Close()
		return nil, nil, err
	}
	return pg, func() {
		if err := pg.Close(); err != nil {
			log.Warn().Err(err).Msg("closing postgres ledger")
		}
	}, nil
}

// runCall drives one interactive conversation over stdin. The patient types
// their side of the call; "q" hangs up early.
func runCall(
	ctx context.Context,
	client *openaisdk.Client,
	cfg generate.Config,
	dispatcher *tool.Dispatcher,
	stdin *bufio.Scanner,
	patient string,
	referenceDate time.Time,
) error {
	systemPrompt, err := prompt.Receptionist(patient, referenceDate)
	if err != nil {
		return err
	}
	gen, err := generate.New(client, systemPrompt, cfg)
	if err != nil {
		return err
	}
	orch, err := conversation.New(gen, dispatcher)
	if err != nil {
		return err
	}

	conv, greeting, err := orch.Start(ctx, patient, referenceDate)
	if err != nil {
		return err
	}
	fmt.Printf("Receptionist: %s\n", greeting)

	for !conv.Terminated() {
		fmt.Printf("%s: ", patient)
		if !stdin.Scan() {
			if err := stdin.Err(); err != nil {
				return err
			}
			return errStdinClosed
		}
		input := strings.TrimSpace(stdin.Text())
		if input == "" {
			continue
		}
		if strings.EqualFold(input, "q") {
			log.Info().Str("session_id", conv.SessionID).Msg("caller hung up")
			return nil
		}

		reply, err := orch.Submit(ctx, conv, input)
		if err != nil {
			if errors.Is(err, conversation.ErrGenerationExhausted) {
				log.Warn().Str("session_id", conv.SessionID).Msg("generator gave up, ending call")
				return nil
			}
			return err
		}
		fmt.Printf("Receptionist: %s\n", reply)
	}
	return nil
}
