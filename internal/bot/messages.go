// internal/bot/messages.go
package bot

import (
	"fmt"
	"strings"

	"quotagate/internal/catalog"
	"quotagate/internal/store"
)

const (
	msgGreeting = "Hi! I am an AI assistant. Write me a question or send a photo with text to recognize.\n\n" +
		"On the free plan you get a limited number of requests; a subscription removes the limits."

	msgNewChat = "Started a new chat. The previous conversation is forgotten."

	msgProviderTimeout    = "The model is taking too long to answer. Please try again in a minute."
	msgProviderConnection = "Could not reach the model right now. Please try again later."
	msgProviderBalance    = "The service is temporarily unavailable. We are already on it."
	msgProviderUnknown    = "Something went wrong while generating the answer. Please try again."

	msgVisionDisabled = "Image recognition is not available right now."
	msgVisionFailed   = "Could not recognize text on this image. Try a clearer photo."
	msgVisionEmpty    = "No text found on this image."

	msgPaymentFailed = "Could not create the payment. Please try again later."
)

func helpText(commandPrefix, supportLink string) string {
	var b strings.Builder
	b.WriteString("Available commands:\n")
	fmt.Fprintf(&b, "%shelp — this message\n", commandPrefix)
	fmt.Fprintf(&b, "%sping — check the bot is alive\n", commandPrefix)
	fmt.Fprintf(&b, "%sstatus — your plan and usage\n", commandPrefix)
	fmt.Fprintf(&b, "%stokens — your token balance\n", commandPrefix)
	b.WriteString("\nYou can also just write a message or send a photo with text.")
	if supportLink != "" {
		fmt.Fprintf(&b, "\nSupport: %s", supportLink)
	}
	return b.String()
}

// statusText renders the user's plan and counters for the status screen.
func statusText(rec *store.UserRecord, cat *catalog.Catalog) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Plan: %s\n", rec.Plan)

	if rec.AdminUnlimited {
		b.WriteString("Access: unlimited\n")
	}
	if rec.PlanEnd != nil {
		fmt.Fprintf(&b, "Active until: %s\n", rec.PlanEnd.Format("02.01.2006"))
	}

	plan, ok := cat.Plan(rec.Plan)
	if !ok {
		plan, _ = cat.Plan(store.PlanFree)
	}

	if plan.MaxTokens == nil {
		max := 0
		if plan.ChatMaxRequests != nil {
			max = *plan.ChatMaxRequests
		}
		fmt.Fprintf(&b, "Chat requests: %d of %d used\n", rec.ChatRequests, max)
	} else {
		fmt.Fprintf(&b, "Tokens: %d remaining (%d used)\n", rec.TokensRemaining, rec.TokensUsed)
	}

	visionAllowance := plan.VisionMax + rec.PurchasedVisionRequests
	fmt.Fprintf(&b, "Image recognitions: %d of %d used", rec.VisionRequests, visionAllowance)
	return b.String()
}

func tokensText(rec *store.UserRecord) string {
	return fmt.Sprintf("Token balance: %d remaining, %d used in total.", rec.TokensRemaining, rec.TokensUsed)
}

// quotaFooter is appended to each successful generation so the user always
// sees where they stand.
func quotaFooter(rec *store.UserRecord, plan store.Plan) string {
	if rec.AdminUnlimited {
		return ""
	}
	if plan.MaxTokens == nil {
		max := 0
		if plan.ChatMaxRequests != nil {
			max = *plan.ChatMaxRequests
		}
		remaining := max - rec.ChatRequests
		if remaining < 0 {
			remaining = 0
		}
		return fmt.Sprintf("\n\nFree requests remaining: %d of %d", remaining, max)
	}
	return fmt.Sprintf("\n\nTokens remaining: %d", rec.TokensRemaining)
}

func subscriptionText(cat *catalog.Catalog) string {
	var b strings.Builder
	b.WriteString("Subscription plans:\n\n")
	for _, name := range []string{store.PlanLite, store.PlanPremium} {
		plan, ok := cat.Plan(name)
		if !ok {
			continue
		}
		tokens := "—"
		if plan.MaxTokens != nil {
			tokens = fmt.Sprintf("%d tokens", *plan.MaxTokens)
		}
		fmt.Fprintf(&b, "%s — %.0f RUB / month: %s, %d image recognitions\n",
			capitalize(name), plan.Price, tokens, plan.VisionMax)
	}
	b.WriteString("\nOr top up without a subscription: a token pack or extra photo requests.")
	return b.String()
}

func paymentText(confirmationURL string) string {
	return "Follow the link to pay:\n" + confirmationURL +
		"\n\nThe purchase is credited automatically right after payment."
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// truncateMessage keeps replies under the transport's hard length limit.
func truncateMessage(text string, max int) string {
	if max <= 0 || len([]rune(text)) <= max {
		return text
	}
	runes := []rune(text)
	const marker = "…"
	return string(runes[:max-len([]rune(marker))]) + marker
}
