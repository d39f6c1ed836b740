package clients

import (
	"tippelaget/clients/cognite"
	"tippelaget/clients/discord"
	"tippelaget/clients/notifier"
	"tippelaget/clients/openai"
	"tippelaget/clients/rediscache"
	"tippelaget/clients/telegram"
	"tippelaget/config"

	"go.uber.org/zap"
)

type Clients struct {
	Logger *zap.Logger

	Discord  *discord.DiscordClient
	Telegram *telegram.TelegramClient
	Notifier notifier.Notifier // Combined notifier for all channels
	Cognite  *cognite.Client
	OpenAI   *openai.Client
	Cache    *rediscache.Cache
}

func NewClients(logger *zap.Logger, cfg *config.Config) (*Clients, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	discordClient := discord.NewDiscordClient(logger, cfg)
	telegramClient := telegram.NewTelegramClient(logger, cfg)

	cache, err := rediscache.New(logger, cfg)
	if err != nil {
		return nil, err
	}

	return &Clients{
		Logger:   logger,
		Discord:  discordClient,
		Telegram: telegramClient,
		Notifier: notifier.NewMultiNotifier(discordClient, telegramClient),
		Cognite:  cognite.NewClient(logger, cfg),
		OpenAI:   openai.NewClient(logger, cfg),
		Cache:    cache,
	}, nil
}

// Close releases the notifier sessions and the cache connection.
func (c *Clients) Close() error {
	err := c.Notifier.Close()
	if cerr := c.Cache.Close(); cerr != nil {
		err = cerr
	}
	return err
}
