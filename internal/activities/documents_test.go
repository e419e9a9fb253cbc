package activities

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsight-lab/finsight/internal/config"
	"github.com/finsight-lab/finsight/internal/models"
	"github.com/finsight-lab/finsight/internal/vectordb"
)

func secFilingState(query string, tickers ...string) *models.PipelineState {
	return financialState(query, tickers, models.Classification{NeedsSecFiling: true})
}

func TestFetchDocumentsGates(t *testing.T) {
	emb := &fakeEmbedder{}
	vec := &fakeVectors{}
	a := testActivities(t, Deps{Embedder: emb, Vectors: vec})

	noFlag := financialState("apple filing", []string{"AAPL"}, models.Classification{})
	assert.Empty(t, a.FetchDocuments(context.Background(), noFlag))

	noTickers := financialState("any filings?", nil, models.Classification{NeedsSecFiling: true})
	assert.Empty(t, a.FetchDocuments(context.Background(), noTickers))

	assert.Empty(t, emb.texts, "gated fetch must not embed")
	assert.Zero(t, vec.calls)
}

func TestFetchDocumentsBiasesQueryAndFilters(t *testing.T) {
	emb := &fakeEmbedder{}
	vec := &fakeVectors{batches: [][]vectordb.ScoredPassage{{
		passage("1", "AAPL", "Risk Factors", "2023-09-30", "supply chain concentration"),
	}}}
	a := testActivities(t, Deps{Embedder: emb, Vectors: vec})

	out := a.FetchDocuments(context.Background(), secFilingState("apple 10-K risks", "AAPL"))

	require.Len(t, out, 1)
	require.Len(t, emb.texts, 1)
	assert.Equal(t, "apple 10-K risks AAPL", emb.texts[0],
		"ticker names are appended to the search text")
	require.Len(t, vec.filters, 1)
	assert.Equal(t, vectordb.TickerFilter([]string{"AAPL"}), vec.filters[0])
}

func TestFetchDocumentsNarrowsToMatchingTickers(t *testing.T) {
	vec := &fakeVectors{batches: [][]vectordb.ScoredPassage{{
		passage("1", "AAPL", "Risk Factors", "2023-09-30", "a"),
		passage("2", "MSFT", "Risk Factors", "2023-06-30", "b"),
		passage("3", "AAPL", "Business", "2023-09-30", "c"),
	}}}
	a := testActivities(t, Deps{Embedder: &fakeEmbedder{}, Vectors: vec})

	out := a.FetchDocuments(context.Background(), secFilingState("apple filings", "AAPL"))

	require.Len(t, out, 2)
	for _, d := range out {
		assert.Equal(t, "AAPL", d.Ticker)
	}
}

func TestFetchDocumentsNeverNarrowsToEmpty(t *testing.T) {
	vec := &fakeVectors{batches: [][]vectordb.ScoredPassage{{
		passage("1", "MSFT", "Risk Factors", "2022-06-30", "a"),
		passage("2", "MSFT", "Business", "2022-06-30", "b"),
	}}}
	a := testActivities(t, Deps{Embedder: &fakeEmbedder{}, Vectors: vec})

	out := a.FetchDocuments(context.Background(), secFilingState("apple filings from 2023", "AAPL"))

	// Neither the ticker metadata nor the 2023 year matches anything, so
	// both narrowings keep the original set instead of emptying it.
	require.Len(t, out, 2)
}

func TestFetchDocumentsNarrowsByQueryYear(t *testing.T) {
	vec := &fakeVectors{batches: [][]vectordb.ScoredPassage{{
		passage("1", "AAPL", "Risk Factors", "2022-09-24", "old"),
		passage("2", "AAPL", "Risk Factors", "2023-09-30", "new"),
	}}}
	a := testActivities(t, Deps{Embedder: &fakeEmbedder{}, Vectors: vec})

	out := a.FetchDocuments(context.Background(), secFilingState("apple 2023 risk factors", "AAPL"))

	require.Len(t, out, 1)
	assert.Equal(t, "2023-09-30", out[0].PeriodEnd)
}

func TestFetchDocumentsReranksBoilerplateLast(t *testing.T) {
	vec := &fakeVectors{batches: [][]vectordb.ScoredPassage{{
		passage("1", "AAPL", "Signatures", "2023-09-30", "signed"),
		passage("2", "AAPL", "Quantitative Disclosures", "2023-09-30", "neutral"),
		passage("3", "AAPL", "Management's Discussion and Analysis", "2023-09-30", "substance"),
		passage("4", "AAPL", "Legal Proceedings", "2023-09-30", "cases"),
	}}}
	a := testActivities(t, Deps{Embedder: &fakeEmbedder{}, Vectors: vec})

	out := a.FetchDocuments(context.Background(), secFilingState("apple 10-K", "AAPL"))

	require.Len(t, out, 4)
	assert.Equal(t, "Management's Discussion and Analysis", out[0].Section)
	assert.Equal(t, "Legal Proceedings", out[1].Section)
	assert.Equal(t, "Quantitative Disclosures", out[2].Section)
	assert.Equal(t, "Signatures", out[3].Section)
}

func TestFetchDocumentsRequeriesWhenTopIsBoilerplate(t *testing.T) {
	emb := &fakeEmbedder{}
	vec := &fakeVectors{batches: [][]vectordb.ScoredPassage{
		{
			passage("1", "AAPL", "Signatures", "2023-09-30", "signed"),
			passage("2", "AAPL", "Exhibit Index", "2023-09-30", "exhibits"),
		},
		{
			passage("3", "AAPL", "Management's Discussion and Analysis", "2023-09-30", "substance"),
			passage("1", "AAPL", "Signatures", "2023-09-30", "signed"), // overlap with first pass
		},
	}}
	a := testActivities(t, Deps{Embedder: emb, Vectors: vec})

	out := a.FetchDocuments(context.Background(), secFilingState("apple 10-K", "AAPL"))

	assert.Equal(t, 2, vec.calls, "boilerplate top result triggers one hinted re-query")
	require.Len(t, emb.texts, 2)
	assert.Contains(t, emb.texts[1], sectionHints)

	require.Len(t, out, 3, "merged sets deduplicate by id")
	assert.Equal(t, "Management's Discussion and Analysis", out[0].Section)
}

func TestFetchDocumentsStopsAtOneRequery(t *testing.T) {
	vec := &fakeVectors{batches: [][]vectordb.ScoredPassage{{
		passage("1", "AAPL", "Signatures", "2023-09-30", "signed"),
	}}}
	a := testActivities(t, Deps{Embedder: &fakeEmbedder{}, Vectors: vec})

	out := a.FetchDocuments(context.Background(), secFilingState("apple 10-K", "AAPL"))

	assert.Equal(t, 2, vec.calls, "even an all-boilerplate second pass ends the search")
	require.NotEmpty(t, out)
}

func TestFetchDocumentsEmbedFailureYieldsEmpty(t *testing.T) {
	emb := &fakeEmbedder{err: errors.New("embedding service down")}
	a := testActivities(t, Deps{Embedder: emb, Vectors: &fakeVectors{}})

	out := a.FetchDocuments(context.Background(), secFilingState("apple 10-K", "AAPL"))

	assert.Empty(t, out)
}

func TestFetchDocumentsSearchFailureYieldsEmpty(t *testing.T) {
	vec := &fakeVectors{err: errors.New("collection unavailable")}
	a := testActivities(t, Deps{Embedder: &fakeEmbedder{}, Vectors: vec})

	out := a.FetchDocuments(context.Background(), secFilingState("apple 10-K", "AAPL"))

	assert.Empty(t, out)
}

func TestApplyConfigChangesRetrievalDepth(t *testing.T) {
	vec := &fakeVectors{batches: [][]vectordb.ScoredPassage{{
		passage("1", "AAPL", "Risk Factors", "2023-09-30", "a"),
	}}}
	a := testActivities(t, Deps{Embedder: &fakeEmbedder{}, Vectors: vec})

	a.FetchDocuments(context.Background(), secFilingState("apple 10-K", "AAPL"))

	cfg := config.Default()
	cfg.Vector.FetchK = 7
	a.ApplyConfig(cfg)
	a.FetchDocuments(context.Background(), secFilingState("apple 10-K", "AAPL"))

	require.Len(t, vec.limits, 2)
	assert.Equal(t, 20, vec.limits[0])
	assert.Equal(t, 7, vec.limits[1])
}

func TestSectionScore(t *testing.T) {
	cases := []struct {
		title string
		want  int
	}{
		{"Management's Discussion and Analysis of Financial Condition", 3},
		{"Item 1A. Risk Factors", 3},
		{"Item 1. Business", 3},
		{"Consolidated Financial Statements", 3},
		{"Item 2. Properties", 1},
		{"Legal Proceedings", 1},
		{"Signatures", -2},
		{"Exhibit Index", -2},
		{"Controls and Procedures", -2},
		{"Quantitative and Qualitative Disclosures About Market Risk", 0},
		{"", 0},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, sectionScore(tc.title), "title=%q", tc.title)
	}
}

func TestDocIdentityPreference(t *testing.T) {
	withID := models.DocPassage{ID: "p1", SourceFile: "a.html", Content: "x"}
	withFile := models.DocPassage{SourceFile: "a.html", Content: "y"}
	bare := models.DocPassage{Content: "z"}

	assert.Equal(t, "id:p1", docIdentity(withID))
	assert.Equal(t, "file:a.html", docIdentity(withFile))
	assert.Equal(t, "content:z", docIdentity(bare))
}
