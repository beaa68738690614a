package surface

import (
	"fmt"
	"reflect"
	"strconv"
)

// Selectors is the data table of site-specific locators, one entry per
// logical UI element. Positional lookups are derived from the base entries.
type Selectors struct {
	PageTitle               Selector `yaml:"page_title"`
	LogScaleButton          Selector `yaml:"log_scale_button"`
	SidePanelHider          Selector `yaml:"side_panel_hider"`
	IndicatorsButton        Selector `yaml:"indicators_button"`
	IndicatorSearchInput    Selector `yaml:"indicator_search_input"`
	IndicatorResult         Selector `yaml:"indicator_result"`
	IndicatorsClose         Selector `yaml:"indicators_close"`
	AppliedIndicatorTitles  Selector `yaml:"applied_indicator_titles"`
	IndicatorPeriodInput    Selector `yaml:"indicator_period_input"`
	IndicatorConfirm        Selector `yaml:"indicator_confirm"`
	SymbolSearchButton      Selector `yaml:"symbol_search_button"`
	SymbolSearchInput       Selector `yaml:"symbol_search_input"`
	SymbolResultLabels      Selector `yaml:"symbol_result_labels"`
	SymbolResultDescription Selector `yaml:"symbol_result_description"`
	ChartMainTitle          Selector `yaml:"chart_main_title"`
	ChartTable              Selector `yaml:"chart_table"`
}

// DefaultSelectors returns the locators for the current TradingView chart page.
func DefaultSelectors() Selectors {
	return Selectors{
		PageTitle:               `//span[@class="title-ccFPqsjV"]`,
		LogScaleButton:          `//div[starts-with(@class, "item-sFd8og5Y button-9pA37sIi")]/div[@class="js-button-text text-9pA37sIi"]`,
		SidePanelHider:          `//div[@class="widgetbar-hider"]`,
		IndicatorsButton:        `//div[@id="header-toolbar-indicators"]`,
		IndicatorSearchInput:    `//input[@class="input-CcsqUMct"]`,
		IndicatorResult:         `(//div[@class="main-FkkXGK5n"])[1]`,
		IndicatorsClose:         `//span[@class="close-tuOy5zvD"]`,
		AppliedIndicatorTitles:  `//div[@class="sourcesWrapper-OYqjX7Sg"]//div[@class="titleWrapper-OYqjX7Sg"]`,
		IndicatorPeriodInput:    `(//input[starts-with(@class, "input-uGWFLwEy")])[1]`,
		IndicatorConfirm:        `//button[@name="submit" and starts-with(@class, "button-YKkCvwjV")]`,
		SymbolSearchButton:      `//div[@id="header-toolbar-symbol-search"]`,
		SymbolSearchInput:       `//input[starts-with(@class, "search-RSKUFnp7")]`,
		SymbolResultLabels:      `//div[starts-with(@class, "symbolTitle-uhHv1IHJ")][1]/span/em`,
		SymbolResultDescription: `(//div[starts-with(@class, "symbolDescription-uhHv1IHJ")])[1]`,
		ChartMainTitle:          `//div[starts-with(@class, "title-OYqjX7Sg mainTitle-OYqjX7Sg")]`,
		ChartTable:              `//table[@class="chart-markup-table"]`,
	}
}

// AppliedIndicator locates the n-th (1-based) indicator title in the chart legend.
func (s Selectors) AppliedIndicator(n int) Selector {
	return Selector("(" + string(s.AppliedIndicatorTitles) + ")[" + strconv.Itoa(n) + "]")
}

// Validate reports the first empty entry.
func (s Selectors) Validate() error {
	v := reflect.ValueOf(s)
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if v.Field(i).String() == "" {
			return fmt.Errorf("selector %s is empty", t.Field(i).Tag.Get("yaml"))
		}
	}
	return nil
}
