package semantic

// emotionVocabulary maps tokens to the emotion pattern they evidence.
var emotionVocabulary = map[string]string{
	"anxious": "anxiety", "anxiety": "anxiety", "worried": "anxiety",
	"worry": "anxiety", "nervous": "anxiety", "uneasy": "anxiety",
	"dread": "anxiety", "panicked": "anxiety", "panic": "anxiety",

	"happy": "joy", "joy": "joy", "joyful": "joy", "glad": "joy",
	"delighted": "joy", "excited": "joy", "thrilled": "joy",

	"stressed": "stress", "stress": "stress", "overwhelmed": "stress",
	"pressure": "stress", "burnout": "stress", "exhausted": "stress",

	"sad": "sadness", "sadness": "sadness", "down": "sadness",
	"grief": "sadness", "lonely": "sadness", "miserable": "sadness",

	"calm": "calm", "peaceful": "calm", "relaxed": "calm",
	"settled": "calm", "grounded": "calm",

	"angry": "anger", "anger": "anger", "furious": "anger",
	"frustrated": "anger", "resentful": "anger", "irritated": "anger",
}

// opposingEmotions lists the pairs whose co-occurrence signals an
// emotional tension. Each pair appears once; order is canonical.
var opposingEmotions = [][2]string{
	{"anxiety", "calm"},
	{"joy", "sadness"},
	{"anger", "calm"},
}

// topicVocabulary maps tokens to domain buckets.
var topicVocabulary = map[string]string{
	"job": "work", "work": "work", "boss": "work", "office": "work",
	"deadline": "work", "meeting": "work", "coworker": "work",
	"project": "work", "career": "work",

	"gym": "health", "sleep": "health", "doctor": "health",
	"exercise": "health", "tired": "health", "sick": "health",
	"health": "health", "eating": "health", "diet": "health",

	"partner": "relationships", "friend": "relationships",
	"family": "relationships", "mom": "relationships", "dad": "relationships",
	"wife": "relationships", "husband": "relationships",
	"girlfriend": "relationships", "boyfriend": "relationships",
	"marriage": "relationships",

	"money": "finances", "rent": "finances", "debt": "finances",
	"savings": "finances", "budget": "finances", "bills": "finances",
}

// behaviorVocabulary maps verb stems to behavior pattern names. Keys are
// re-stemmed at init so surface forms ("ran", "running", "runs") land on
// the same bucket as the base verb.
var behaviorVocabulary = map[string]string{
	"run": "exercising", "ran": "exercising", "walk": "exercising",
	"lift": "exercising", "train": "exercising",
	"exercis": "exercising", "exercise": "exercising",

	"avoid": "avoiding", "skip": "avoiding",
	"postpon": "avoiding", "postpone": "avoiding",
	"procrastinat": "avoiding", "procrastinate": "avoiding",
	"cancel": "avoiding",

	"journal": "reflecting", "writ": "reflecting", "wrote": "reflecting",
	"meditat": "reflecting", "meditate": "reflecting",

	"drink": "coping", "drank": "coping",
	"smok": "coping", "smoke": "coping", "binge": "coping",
	"scroll": "coping", "doomscroll": "coping",
}

// behaviorStems is behaviorVocabulary keyed by Stem output.
var behaviorStems = func() map[string]string {
	out := make(map[string]string, len(behaviorVocabulary))
	for k, v := range behaviorVocabulary {
		out[Stem(k)] = v
	}
	return out
}()
