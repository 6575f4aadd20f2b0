// internal/browser/stealth/stealth.go
package stealth

import (
	"context"
	_ "embed" // Required for the go:embed directive
	"encoding/json"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/voxstay/browsergate/api/schemas"
)

//go:embed evasions.js
var evasionsScript string

// Apply orchestrates the stealth actions using chromedp.Tasks for sequential
// execution. It must run before any navigation so the overrides and the
// evasion script are in place for the first document.
func Apply(persona schemas.Persona, logger *zap.Logger) chromedp.Action {
	l := logger.Named("stealth")
	return chromedp.Tasks{
		network.Enable(),
		setExtraHTTPHeaders(persona, l),
		setUserAgentOverride(persona, l),
		setDeviceMetrics(persona, l),
		injectEvasionScript(persona, l),
		page.SetWebLifecycleState(page.SetWebLifecycleStateStateActive),
		chromedp.ActionFunc(func(ctx context.Context) error {
			l.Debug("Stealth profile applied successfully", zap.String("UserAgent", persona.UserAgent))
			return nil
		}),
	}
}

// injectEvasionScript registers the JS fingerprint-masking script so it runs
// on every new document before page scripts execute.
func injectEvasionScript(persona schemas.Persona, logger *zap.Logger) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		personaJSON, err := json.Marshal(persona)
		if err != nil {
			logger.Error("Failed to marshal persona configuration", zap.Error(err))
			return fmt.Errorf("stealth: failed to marshal persona: %w", err)
		}

		scriptWithPersona := fmt.Sprintf(
			"const BROWSERGATE_PERSONA = %s;\n%s",
			string(personaJSON),
			evasionsScript,
		)

		if _, err = page.AddScriptToEvaluateOnNewDocument(scriptWithPersona).Do(ctx); err != nil {
			logger.Error("Failed to register evasion script with CDP", zap.Error(err))
			return fmt.Errorf("stealth: failed to add script on new document: %w", err)
		}
		return nil
	})
}

// setUserAgentOverride configures the UserAgent string, platform, and accept language.
func setUserAgentOverride(persona schemas.Persona, logger *zap.Logger) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		override := emulation.SetUserAgentOverride(persona.UserAgent).
			WithPlatform(persona.Platform).
			WithAcceptLanguage(strings.Join(persona.Languages, ","))

		if err := override.Do(ctx); err != nil {
			logger.Error("Failed to set UserAgent override via CDP", zap.Error(err))
			return fmt.Errorf("stealth: failed to set user agent override: %w", err)
		}
		return nil
	})
}

// setExtraHTTPHeaders configures a persistent Accept-Language header with
// descending quality values.
func setExtraHTTPHeaders(persona schemas.Persona, logger *zap.Logger) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if len(persona.Languages) == 0 {
			return nil
		}
		formattedLanguage := persona.Languages[0]
		for i := 1; i < len(persona.Languages); i++ {
			qValue := 1.0 - float64(i)*0.1
			if qValue < 0.7 {
				qValue = 0.7
			}
			formattedLanguage += fmt.Sprintf(",%s;q=%.1f", persona.Languages[i], qValue)
		}
		headers := map[string]interface{}{"Accept-Language": formattedLanguage}
		if err := network.SetExtraHTTPHeaders(network.Headers(headers)).Do(ctx); err != nil {
			logger.Error("Failed to set extra HTTP headers via CDP", zap.Error(err))
			return fmt.Errorf("stealth: failed to set extra http headers: %w", err)
		}
		return nil
	})
}

// setDeviceMetrics configures the viewport to the persona's dimensions.
func setDeviceMetrics(persona schemas.Persona, logger *zap.Logger) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if persona.Width <= 0 || persona.Height <= 0 {
			return nil
		}
		orientation := emulation.OrientationTypeLandscapePrimary
		if persona.Height > persona.Width {
			orientation = emulation.OrientationTypePortraitPrimary
		}
		err := emulation.SetDeviceMetricsOverride(persona.Width, persona.Height, 1.0, false).
			WithScreenOrientation(&emulation.ScreenOrientation{
				Type:  orientation,
				Angle: 0,
			}).Do(ctx)
		if err != nil {
			logger.Error("Failed to set device metrics override via CDP", zap.Error(err))
			return fmt.Errorf("stealth: failed to set device metrics: %w", err)
		}
		return nil
	})
}
