package bolt

// schemaStatements creates uniqueness constraints and scalar/full-text
// indexes. Vector indexes are created separately by EnsureVectorIndexes,
// since their dimension depends on the configured embedding provider.
var schemaStatements = []string{
	"CREATE CONSTRAINT ON (u:User) ASSERT u.userId IS UNIQUE",
	"CREATE CONSTRAINT ON (m:Memory) ASSERT m.id IS UNIQUE",
	"CREATE CONSTRAINT ON (a:App) ASSERT a.id IS UNIQUE",
	"CREATE CONSTRAINT ON (e:Entity) ASSERT e.id IS UNIQUE",
	"CREATE CONSTRAINT ON (c:Community) ASSERT c.id IS UNIQUE",
	"CREATE CONSTRAINT ON (h:MemoryHistory) ASSERT h.id IS UNIQUE",
	"CREATE CONSTRAINT ON (c:Config) ASSERT c.key IS UNIQUE",

	"CREATE INDEX ON :Memory(state)",
	"CREATE INDEX ON :Memory(validAt)",
	"CREATE INDEX ON :Memory(invalidAt)",
	"CREATE INDEX ON :Memory(extractionStatus)",
	"CREATE INDEX ON :Entity(name)",
	"CREATE INDEX ON :Entity(type)",
	"CREATE INDEX ON :Entity(normalizedName)",
	"CREATE INDEX ON :Entity(userId)",
	"CREATE INDEX ON :MemoryHistory(memoryId)",
	"CREATE INDEX ON :App(appName)",

	"CREATE FULLTEXT INDEX memory_fulltext ON :Memory(content)",
}
