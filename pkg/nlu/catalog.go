package nlu

// Provider keys.
const (
	ProviderNative = "native"
	ProviderRecast = "recast"
	ProviderLuis   = "luis"
)

// CatalogEntry maps one domain-neutral entity type to the vocabulary name
// each provider uses for it. A missing provider key means the provider has
// no equivalent and the type is unavailable there.
type CatalogEntry struct {
	Type      string
	Providers map[string]string
}

// EntityCatalog is the static system entity-type catalog.
var EntityCatalog = []CatalogEntry{
	{Type: "amountOfMoney", Providers: map[string]string{
		ProviderNative: "amount-of-money",
		ProviderRecast: "#money",
		ProviderLuis:   "builtin.currency",
	}},
	{Type: "distance", Providers: map[string]string{
		ProviderNative: "distance",
		ProviderRecast: "#distance",
		ProviderLuis:   "builtin.dimension",
	}},
	{Type: "duration", Providers: map[string]string{
		ProviderNative: "duration",
		ProviderRecast: "#duration",
		ProviderLuis:   "builtin.duration",
	}},
	{Type: "email", Providers: map[string]string{
		ProviderNative: "email",
		ProviderRecast: "#email",
		ProviderLuis:   "builtin.email",
	}},
	{Type: "number", Providers: map[string]string{
		ProviderNative: "number",
		ProviderRecast: "#number",
		ProviderLuis:   "builtin.number",
	}},
	{Type: "ordinal", Providers: map[string]string{
		ProviderNative: "ordinal",
		ProviderRecast: "#ordinal",
		ProviderLuis:   "builtin.ordinal",
	}},
	{Type: "phoneNumber", Providers: map[string]string{
		ProviderNative: "phone-number",
		ProviderRecast: "#phone",
		ProviderLuis:   "builtin.phonenumber",
	}},
	{Type: "quantity", Providers: map[string]string{
		ProviderNative: "quantity",
		ProviderRecast: "#quantity",
	}},
	{Type: "temperature", Providers: map[string]string{
		ProviderNative: "temperature",
		ProviderRecast: "#temperature",
		ProviderLuis:   "builtin.temperature",
	}},
	{Type: "time", Providers: map[string]string{
		ProviderNative: "time",
		ProviderRecast: "#datetime",
		ProviderLuis:   "builtin.datetimeV2",
	}},
	{Type: "url", Providers: map[string]string{
		ProviderNative: "url",
		ProviderRecast: "#url",
		ProviderLuis:   "builtin.url",
	}},
	{Type: "volume", Providers: map[string]string{
		ProviderNative: "volume",
		ProviderRecast: "#volume",
	}},
}

// CatalogEntitiesFor returns the catalog entries available under the given
// provider key, in catalog order. Built-in names are exposed in the
// "@provider.type" form (e.g. "@native.duration") so authoring surfaces can
// tell them apart from custom entities.
func CatalogEntitiesFor(provider string) []AvailableEntity {
	var out []AvailableEntity
	for _, entry := range EntityCatalog {
		vocabName, ok := entry.Providers[provider]
		if !ok {
			continue
		}
		out = append(out, AvailableEntity{
			Name:           "@" + provider + "." + entry.Type,
			IsFromProvider: true,
			NameProvider:   vocabName,
		})
	}
	return out
}
