package ui

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
)

// Theme holds the colors of the TUI.
type Theme struct {
	BgColor           tcell.Color
	FgColor           tcell.Color
	DimColor          tcell.Color
	BorderColor       tcell.Color
	TableHeaderFg     tcell.Color
	TableHeaderBg     tcell.Color
	TableCursorFg     tcell.Color
	TableCursorBg     tcell.Color
	CrumbActiveFg     tcell.Color
	CrumbActiveBg     tcell.Color
	CrumbInactiveFg   tcell.Color
	CrumbInactiveBg   tcell.Color
	MenuKeyColor      tcell.Color
	TitleColor        tcell.Color
	CounterColor      tcell.Color
	OnlineColor       tcell.Color
	MobileColor       tcell.Color
	SelfColor         tcell.Color
	NoticeColor       tcell.Color
	FlashInfoColor    tcell.Color
	FlashWarnColor    tcell.Color
	FlashErrColor     tcell.Color
	PromptBorderColor tcell.Color
}

// DefaultTheme returns a dark theme in vk blues.
func DefaultTheme() *Theme {
	return &Theme{
		BgColor:           tcell.ColorBlack,
		FgColor:           tcell.ColorLightSteelBlue,
		DimColor:          tcell.ColorGray,
		BorderColor:       tcell.ColorSteelBlue,
		TableHeaderFg:     tcell.ColorWhite,
		TableHeaderBg:     tcell.ColorBlack,
		TableCursorFg:     tcell.ColorBlack,
		TableCursorBg:     tcell.ColorLightSkyBlue,
		CrumbActiveFg:     tcell.ColorBlack,
		CrumbActiveBg:     tcell.ColorCornflowerBlue,
		CrumbInactiveFg:   tcell.ColorBlack,
		CrumbInactiveBg:   tcell.ColorSteelBlue,
		MenuKeyColor:      tcell.ColorCornflowerBlue,
		TitleColor:        tcell.ColorWhite,
		CounterColor:      tcell.ColorPapayaWhip,
		OnlineColor:       tcell.ColorLimeGreen,
		MobileColor:       tcell.ColorYellowGreen,
		SelfColor:         tcell.ColorLightSkyBlue,
		NoticeColor:       tcell.ColorOrangeRed,
		FlashInfoColor:    tcell.ColorNavajoWhite,
		FlashWarnColor:    tcell.ColorOrange,
		FlashErrColor:     tcell.ColorOrangeRed,
		PromptBorderColor: tcell.ColorCornflowerBlue,
	}
}

// Tag returns the tview color tag name for c, usable inside "[...]" markup.
func Tag(c tcell.Color) string {
	for name, val := range tcell.ColorNames {
		if val == c {
			return name
		}
	}
	return fmt.Sprintf("#%06x", c.Hex())
}
