package views

import (
	"strings"

	"github.com/rivo/tview"

	"github.com/matheus3301/vksync/internal/bus"
	"github.com/matheus3301/vksync/internal/tui/ui"
)

// CaptchaForm asks the user to solve a captcha challenge. The image cannot
// be drawn in a terminal, so its URL is shown for opening in a browser.
type CaptchaForm struct {
	*tview.Flex
	form     *tview.Form
	url      *tview.TextView
	current  bus.CaptchaRequired
	onSubmit func(id, key string)
	onCancel func(id string)
}

// NewCaptchaForm creates the captcha dialog.
func NewCaptchaForm(theme *ui.Theme) *CaptchaForm {
	cf := &CaptchaForm{}

	cf.url = tview.NewTextView().
		SetDynamicColors(true).
		SetWordWrap(true)
	cf.url.SetBackgroundColor(theme.BgColor)
	cf.url.SetTextColor(theme.FgColor)

	cf.form = tview.NewForm().
		AddInputField("Code", "", 16, nil, nil).
		AddButton("Submit", cf.submit).
		AddButton("Cancel", cf.cancel)
	cf.form.SetCancelFunc(cf.cancel)
	cf.form.SetBackgroundColor(theme.BgColor)
	cf.form.SetFieldBackgroundColor(theme.BgColor)
	cf.form.SetFieldTextColor(theme.FgColor)
	cf.form.SetLabelColor(theme.MenuKeyColor)

	body := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(cf.url, 3, 0, false).
		AddItem(cf.form, 0, 1, true)
	body.SetBorder(true)
	body.SetBorderColor(theme.PromptBorderColor)
	body.SetBackgroundColor(theme.BgColor)
	body.SetTitle(" Captcha Required ")
	body.SetTitleColor(theme.TitleColor)

	cf.Flex = centered(body, 64, 10)
	return cf
}

// Name implements ui.Component.
func (cf *CaptchaForm) Name() string { return "Captcha" }

// Hints implements ui.Component.
func (cf *CaptchaForm) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Enter", Description: "Submit"},
		{Key: "Esc", Description: "Cancel"},
	}
}

// Show displays challenge c and clears the previous answer.
func (cf *CaptchaForm) Show(c bus.CaptchaRequired) {
	cf.current = c
	cf.url.SetText(" Open and type the code:\n [::u]" + tview.Escape(c.ImageURL) + "[::-]")
	cf.input().SetText("")
	cf.form.SetFocus(0)
}

// Current returns the challenge shown.
func (cf *CaptchaForm) Current() bus.CaptchaRequired { return cf.current }

// SetOnSubmit sets the callback run with the typed code.
func (cf *CaptchaForm) SetOnSubmit(fn func(id, key string)) { cf.onSubmit = fn }

// SetOnCancel sets the callback run when the user gives up.
func (cf *CaptchaForm) SetOnCancel(fn func(id string)) { cf.onCancel = fn }

func (cf *CaptchaForm) input() *tview.InputField {
	return cf.form.GetFormItem(0).(*tview.InputField)
}

func (cf *CaptchaForm) submit() {
	key := strings.TrimSpace(cf.input().GetText())
	if key == "" || cf.onSubmit == nil {
		return
	}
	cf.onSubmit(cf.current.ID, key)
}

func (cf *CaptchaForm) cancel() {
	if cf.onCancel != nil {
		cf.onCancel(cf.current.ID)
	}
}

// centered places p in the middle of the screen at the given size.
func centered(p tview.Primitive, width, height int) *tview.Flex {
	return tview.NewFlex().
		AddItem(nil, 0, 1, false).
		AddItem(tview.NewFlex().
			SetDirection(tview.FlexRow).
			AddItem(nil, 0, 1, false).
			AddItem(p, height, 0, true).
			AddItem(nil, 0, 1, false), width, 0, true).
		AddItem(nil, 0, 1, false)
}
