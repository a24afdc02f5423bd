// internal/bot/keyboard.go
package bot

// Button labels are matched verbatim against inbound message text, so the
// constants here are the single source of truth for both rendering and
// dispatch.
const (
	ButtonStatus       = "My status"
	ButtonBuyTokens    = "Buy tokens"
	ButtonBuyPhoto     = "Extra photo requests"
	ButtonSubscription = "Subscription"
	ButtonLite         = "Lite plan"
	ButtonPremium      = "Premium plan"
	ButtonNewChat      = "New chat"
	ButtonBack         = "Back"
)

type buttonAction struct {
	Type  string `json:"type"`
	Label string `json:"label"`
}

type button struct {
	Action buttonAction `json:"action"`
	Color  string       `json:"color"`
}

// Keyboard is the transport's reply-keyboard wire shape.
type Keyboard struct {
	OneTime bool       `json:"one_time"`
	Buttons [][]button `json:"buttons"`
}

func textButton(label, color string) button {
	return button{Action: buttonAction{Type: "text", Label: label}, Color: color}
}

// MainKeyboard is the default menu shown with most replies.
func MainKeyboard() *Keyboard {
	return &Keyboard{
		Buttons: [][]button{
			{textButton(ButtonStatus, "primary"), textButton(ButtonNewChat, "secondary")},
			{textButton(ButtonSubscription, "positive")},
		},
	}
}

// SubscriptionKeyboard lists the purchase options.
func SubscriptionKeyboard() *Keyboard {
	return &Keyboard{
		Buttons: [][]button{
			{textButton(ButtonLite, "primary"), textButton(ButtonPremium, "positive")},
			{textButton(ButtonBuyTokens, "secondary"), textButton(ButtonBuyPhoto, "secondary")},
			{textButton(ButtonBack, "negative")},
		},
	}
}
