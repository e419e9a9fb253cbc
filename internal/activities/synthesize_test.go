package activities

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsight-lab/finsight/internal/models"
)

func synthState() *models.PipelineState {
	st := models.NewPipelineState([]models.Turn{
		{Role: models.RoleUser, Content: "What is Apple's market cap?"},
	})
	st.ApplyResolution("What is Apple's market cap?")
	st.ApplyClassification(models.Classification{
		IsFinancial:      true,
		Tickers:          []string{"AAPL"},
		NeedsFundamental: true,
	})
	return st
}

func TestSynthesizeFormatsFundamentalBlock(t *testing.T) {
	gen := &fakeGenerator{fn: reply("Apple's market cap is about $2.9T.")}
	a := testActivities(t, Deps{Strong: gen})

	st := synthState()
	st.SetFundamental(map[string]models.FundamentalEntry{
		"AAPL": {Snapshot: &models.FundamentalSnapshot{
			CurrentPrice: 190.25,
			MarketCap:    2.9e12,
			PERatio:      28.5,
			EPS:          6.42,
			High52W:      199.62,
			Low52W:       124.17,
		}},
	})

	answer := a.Synthesize(context.Background(), st)
	assert.Equal(t, "Apple's market cap is about $2.9T.", answer)

	prompt := gen.lastCall().user
	assert.Contains(t, prompt, "📊 FUNDAMENTAL ANALYSIS for AAPL (Retrieved from Finnhub):")
	assert.Contains(t, prompt, "• Price: $190.25")
	assert.Contains(t, prompt, "• Market Cap: $2,900,000,000,000")
	assert.Contains(t, prompt, "• P/E Ratio: 28.5")
	assert.Contains(t, prompt, "• EPS: $6.42")
	assert.Contains(t, prompt, "• 52W Range: $124.17 – $199.62")
}

func TestSynthesizeFormatsTechnicalBlock(t *testing.T) {
	gen := &fakeGenerator{}
	a := testActivities(t, Deps{Strong: gen})

	st := synthState()
	st.SetTechnical(map[string]models.TechnicalEntry{
		"AAPL": {Indicators: &models.TechnicalIndicators{
			RSI14:            65.432,
			MACD:             1.236,
			SMA50:            148.5,
			SMA200:           141.2,
			PriceVsSMA200Pct: 5.678,
			BollingerUpper:   155.18,
			BollingerLower:   139.94,
		}},
	})

	a.Synthesize(context.Background(), st)

	prompt := gen.lastCall().user
	assert.Contains(t, prompt, "📈 TECHNICAL ANALYSIS for AAPL (Retrieved from Finnhub):")
	assert.Contains(t, prompt, "• RSI 14: 65.43")
	assert.Contains(t, prompt, "• MACD: 1.24")
	assert.Contains(t, prompt, "• SMA 50: 148.50")
	assert.Contains(t, prompt, "• SMA 200: 141.20")
	assert.Contains(t, prompt, "• PRICE VS SMA 200 PCT: 5.68")
	assert.Contains(t, prompt, "• BOLLINGER UPPER: 155.18")
	assert.Contains(t, prompt, "• BOLLINGER LOWER: 139.94")
}

func TestSynthesizeOmitsErrorEntries(t *testing.T) {
	gen := &fakeGenerator{}
	a := testActivities(t, Deps{Strong: gen})

	st := synthState()
	st.ApplyClassification(models.Classification{
		IsFinancial:      true,
		Tickers:          []string{"AAPL", "ZZZQ"},
		NeedsFundamental: true,
	})
	st.SetFundamental(map[string]models.FundamentalEntry{
		"AAPL": {Snapshot: &models.FundamentalSnapshot{CurrentPrice: 190.25}},
		"ZZZQ": {Error: "no data for ticker ZZZQ"},
	})

	a.Synthesize(context.Background(), st)

	prompt := gen.lastCall().user
	assert.Contains(t, prompt, "FUNDAMENTAL ANALYSIS for AAPL")
	assert.NotContains(t, prompt, "ZZZQ", "failed tickers are omitted, not rendered")
}

func TestSynthesizeMarketCapFallback(t *testing.T) {
	gen := &fakeGenerator{}
	a := testActivities(t, Deps{Strong: gen})

	st := synthState()
	st.SetFundamental(map[string]models.FundamentalEntry{
		"AAPL": {Snapshot: &models.FundamentalSnapshot{CurrentPrice: 12.5}},
	})

	a.Synthesize(context.Background(), st)

	assert.Contains(t, gen.lastCall().user, "• Market Cap: N/A")
}

func TestSynthesizeNewsBlock(t *testing.T) {
	gen := &fakeGenerator{}
	a := testActivities(t, Deps{Strong: gen})

	long := strings.Repeat("x", 620)
	st := synthState()
	st.SetNews([]models.NewsItem{
		{Content: long, URL: "https://news.example/apple", Date: "2025-08-12"},
		{Content: "short item"},
	})

	a.Synthesize(context.Background(), st)

	prompt := gen.lastCall().user
	assert.Contains(t, prompt, "📰 RECENT NEWS:")
	assert.Contains(t, prompt, "[https://news.example/apple - 2025-08-12]: "+strings.Repeat("x", newsExcerptLen)+"...")
	assert.NotContains(t, prompt, strings.Repeat("x", newsExcerptLen+1), "excerpt is bounded")
	assert.Contains(t, prompt, "[News - Recent]: short item...",
		"missing source and date fall back to placeholders")
}

func TestSynthesizeDocumentBlock(t *testing.T) {
	gen := &fakeGenerator{}
	a := testActivities(t, Deps{Strong: gen})

	long := strings.Repeat("y", 900)
	st := synthState()
	st.SetDocs([]models.DocPassage{
		{
			Content:   long,
			Ticker:    "AAPL",
			Company:   "Apple Inc.",
			FormType:  "10-K",
			PeriodEnd: "2023-09-30",
			Section:   "Risk Factors",
		},
		{Content: "orphan passage"},
	})

	a.Synthesize(context.Background(), st)

	prompt := gen.lastCall().user
	assert.Contains(t, prompt, "[Apple Inc. (AAPL) 10-K (Period: 2023-09-30) - Risk Factors]: "+strings.Repeat("y", docExcerptLen)+"...")
	assert.Contains(t, prompt, "[Unknown (Unknown) Filing (Period: N/A) - Document]: orphan passage...")
}

func TestSynthesizeHistoryBlock(t *testing.T) {
	gen := &fakeGenerator{}
	a := testActivities(t, Deps{Strong: gen})

	st := models.NewPipelineState([]models.Turn{
		{Role: models.RoleUser, Content: "Tell me about Apple stock"},
		{Role: models.RoleAssistant, Content: "Apple is a large-cap technology company."},
		{Role: models.RoleUser, Content: "What's its P/E ratio?"},
	})
	st.ApplyResolution("What is Apple's P/E ratio?")
	st.ApplyClassification(models.Classification{IsFinancial: true, Tickers: []string{"AAPL"}})

	a.Synthesize(context.Background(), st)

	prompt := gen.lastCall().user
	assert.Contains(t, prompt, "USER: Tell me about Apple stock")
	assert.Contains(t, prompt, "ASSISTANT: Apple is a large-cap technology company.")
	assert.NotContains(t, prompt, "USER: What's its P/E ratio?")
	assert.Contains(t, prompt, "Question: What is Apple's P/E ratio?")
}

func TestSynthesizeHistoryNoneForFirstTurn(t *testing.T) {
	gen := &fakeGenerator{}
	a := testActivities(t, Deps{Strong: gen})

	a.Synthesize(context.Background(), synthState())

	assert.Contains(t, gen.lastCall().user, "Conversation History:\nNone")
}

func TestSynthesizeModelFailureBecomesAnswer(t *testing.T) {
	gen := &fakeGenerator{fn: fail(errors.New("model overloaded"))}
	a := testActivities(t, Deps{Strong: gen})

	answer := a.Synthesize(context.Background(), synthState())

	assert.Equal(t, "An error occurred: model overloaded", answer)
}

func TestSynthesizePromptIsDeterministic(t *testing.T) {
	gen := &fakeGenerator{}
	a := testActivities(t, Deps{Strong: gen})

	st := synthState()
	st.SetFundamental(map[string]models.FundamentalEntry{
		"AAPL": {Snapshot: &models.FundamentalSnapshot{CurrentPrice: 190.25, MarketCap: 2.9e12}},
	})
	st.SetNews([]models.NewsItem{{Content: "body", URL: "https://n.example/1", Date: "2025-08-12"}})
	st.SetDocs([]models.DocPassage{{Content: "passage", Ticker: "AAPL", Section: "Business"}})

	a.Synthesize(context.Background(), st)
	first := gen.lastCall().user
	a.Synthesize(context.Background(), st)
	second := gen.lastCall().user

	require.Equal(t, first, second, "identical state must render identical context blocks")
}
