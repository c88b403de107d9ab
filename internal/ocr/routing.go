package ocr

import "DiscordContextBot/internal/config"

// RouteKind says where a matched response goes.
type RouteKind int

const (
	// RouteInPlace replies in the source channel.
	RouteInPlace RouteKind = iota
	// RouteToChannel posts a link to the original message in another
	// channel and replies there.
	RouteToChannel
	// RouteDrop logs and discards the hit.
	RouteDrop
)

// Route is a resolved response destination.
type Route struct {
	Kind      RouteKind
	ChannelID string
}

// ResolveRoute decides where a response for OCR output from sourceChannelID
// goes. A channel that both reads and responds handles its own hits;
// otherwise a dedicated response channel with a matching language takes them,
// then the first fallback channel, then nothing.
func ResolveRoute(cfg *config.OCRConfig, sourceChannelID, language string) Route {
	readChannels := make(map[string]bool, len(cfg.ReadChannels))
	for _, ch := range cfg.ReadChannels {
		readChannels[ch.ChannelID] = true
	}

	for _, ch := range cfg.ResponseChannels {
		if ch.ChannelID == sourceChannelID && readChannels[sourceChannelID] {
			return Route{Kind: RouteInPlace, ChannelID: sourceChannelID}
		}
	}

	for _, ch := range cfg.ResponseChannels {
		if readChannels[ch.ChannelID] {
			continue
		}
		chLang := ch.Language
		if chLang == "" {
			chLang = config.DefaultOCRLanguage
		}
		srcLang := language
		if srcLang == "" {
			srcLang = config.DefaultOCRLanguage
		}
		if chLang == srcLang {
			return Route{Kind: RouteToChannel, ChannelID: ch.ChannelID}
		}
	}

	if len(cfg.FallbackChannels) > 0 {
		return Route{Kind: RouteToChannel, ChannelID: cfg.FallbackChannels[0]}
	}
	return Route{Kind: RouteDrop}
}
