package extraction

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Nonymaus/cursor-kg/internal/domain"
)

func TestExtractIsPure(t *testing.T) {
	body := "Alice Johnson works with Bob Smith. They built the search engine together."
	n1, e1 := Extract("g1", "note", body, domain.SourceText)
	n2, e2 := Extract("g1", "note", body, domain.SourceText)
	assert.Equal(t, n1, n2)
	assert.Equal(t, e1, e2)
}

func TestExtractFindsEntitiesAndRelation(t *testing.T) {
	body := "Alice Johnson works with Bob Smith."
	nodes, edges := Extract("g1", "note", body, domain.SourceText)

	names := make(map[string]bool)
	for _, n := range nodes {
		names[n.Name] = true
		assert.Equal(t, "g1", n.GroupID)
	}
	assert.True(t, names["Alice Johnson"])
	assert.True(t, names["Bob Smith"])

	assert.Len(t, edges, 1)
	assert.Equal(t, "works_with", edges[0].RelationType)
	assert.Equal(t, "Alice Johnson", edges[0].SourceNodeID)
	assert.Equal(t, "Bob Smith", edges[0].TargetNodeID)
}

func TestExtractSkipsCommonWords(t *testing.T) {
	body := "The quick brown fox jumped."
	nodes, _ := Extract("g1", "note", body, domain.SourceText)
	for _, n := range nodes {
		assert.NotEqual(t, "The", n.Name)
	}
}

func TestExtractDefaultsGroupID(t *testing.T) {
	nodes, _ := Extract("", "note", "Acme Corp manages the project.", domain.SourceText)
	for _, n := range nodes {
		assert.Equal(t, domain.DefaultGroupID, n.GroupID)
	}
}

func TestExtractEmptyBodyYieldsNothing(t *testing.T) {
	nodes, edges := Extract("g1", "note", "", domain.SourceText)
	assert.Empty(t, nodes)
	assert.Empty(t, edges)
}

func TestExtractClassifiesPersonAndOrganizationNodes(t *testing.T) {
	body := "Alice works at TechCorp with Bob."
	nodes, edges := Extract("g1", "note", body, domain.SourceText)

	byName := make(map[string]domain.Node)
	for _, n := range nodes {
		byName[n.Name] = n
	}

	require := assert.New(t)
	require.Equal("Person", byName["Alice"].NodeType)
	require.Equal("Organization", byName["TechCorp"].NodeType)

	var orgCount int
	for _, n := range nodes {
		if n.Name == "TechCorp" {
			orgCount++
		}
	}
	require.Equal(1, orgCount)

	require.Len(edges, 1)
	require.Equal("works_at", edges[0].RelationType)
	require.Equal("Alice", edges[0].SourceNodeID)
	require.Equal("TechCorp", edges[0].TargetNodeID)
}
