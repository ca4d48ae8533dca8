// internal/provision/steps.go
// Declarative intents and step sequences for the partner's signup wizard.
// Phrase variants cover the French and English renderings of each slide.
// The slide sequence is best-effort end to end: the partner reorders and
// drops slides freely, and the store-name form afterwards is the real
// checkpoint.
package provision

import "github.com/tessierlabs/storeforge/api/schemas"

func nextIntent() *Intent {
	return &Intent{
		Name:     "advance to next slide",
		Kind:     schemas.ElementButton,
		Phrases:  []string{"Suivant", "Next"},
		Keywords: [][]string{{"suivant"}, {"continue"}, {"continuer"}},
	}
}

// loginIntent finds the partner homepage's log-in affordance.
func loginIntent() Intent {
	return Intent{
		Name:    "open login page",
		Kind:    schemas.ElementLink,
		Phrases: []string{"Se connecter", "Log in", "Connexion"},
		Keywords: [][]string{
			{"se connecter"},
			{"log in"},
		},
	}
}

// emailLoginIntent finds the "log in with email" affordance shown after a
// solved captcha.
func emailLoginIntent() Intent {
	return Intent{
		Name:    "log in with email",
		Kind:    schemas.ElementButton,
		Phrases: []string{"Se connecter avec email", "Se connecter avec e-mail", "Log in with email"},
		Keywords: [][]string{
			{"connecter", "email"},
			{"continue", "email"},
		},
	}
}

// submitIntent finds a form's submit button.
func submitIntent(name string) Intent {
	return Intent{
		Name:    name,
		Kind:    schemas.ElementButton,
		Phrases: []string{"Continuer", "Continue", "Next", "Suivant"},
		Keywords: [][]string{
			{"continuer"}, {"continue"}, {"suivant"}, {"next"}, {"submit"},
		},
		AllowPositional: true,
	}
}

// createStoreIntent finds the "create a store" entry point on the admin
// landing page.
func createStoreIntent() Intent {
	return Intent{
		Name:    "create store",
		Kind:    schemas.ElementButton,
		Phrases: []string{"Créer une boutique", "Create store", "Create a store"},
		Keywords: [][]string{
			{"créer", "boutique"},
			{"create", "store"},
		},
	}
}

// wizardSlides is the known slide sequence of the signup wizard.
func wizardSlides() []Step {
	return []Step{
		{
			// "Sur quels canaux souhaitez-vous vendre ?"
			Intent: Intent{
				Name:    "select online store channel",
				Kind:    schemas.ElementChoice,
				Phrases: []string{"Une boutique en ligne", "An online store", "Online store"},
				Keywords: [][]string{
					{"boutique", "ligne"},
					{"online", "store"},
				},
				AllowPositional: true,
			},
			Advance:     nextIntent(),
			SettleAfter: true,
		},
		{
			Intent: Intent{
				Name:    "select existing business",
				Kind:    schemas.ElementChoice,
				Phrases: []string{"Entreprise existante", "Existing business"},
				Keywords: [][]string{
					{"entreprise", "existante"},
					{"existing", "business"},
				},
				AllowPositional: true,
			},
			Advance:     nextIntent(),
			SettleAfter: true,
		},
		{
			// "Que prévoyez-vous de vendre ?"
			Intent: Intent{
				Name:    "select self-sourced products",
				Kind:    schemas.ElementChoice,
				Phrases: []string{"Produits que j'achète ou fabrique moi-même"},
				Keywords: [][]string{
					{"achète", "fabrique"},
					{"expédiés", "moi"},
					{"make", "myself"},
				},
				AllowPositional: true,
			},
			Advance:     nextIntent(),
			SettleAfter: true,
		},
		{
			// "Vendez-vous actuellement sur d'autres plateformes ?"
			Intent: Intent{
				Name:    "select no other platforms",
				Kind:    schemas.ElementChoice,
				Phrases: []string{"Non, je n'utilise aucune plateforme"},
				Keywords: [][]string{
					{"aucune", "plateforme"},
					{"don't", "platform"},
				},
				AllowPositional: true,
			},
			Advance:     nextIntent(),
			SettleAfter: true,
		},
		{
			// Plan selection: always skipped.
			Intent: Intent{
				Name:    "skip plan selection",
				Kind:    schemas.ElementButton,
				Phrases: []string{"Passer", "Passer, je déciderai plus tard", "Skip"},
				Keywords: [][]string{
					{"passer"},
					{"déciderai", "plus tard"},
					{"skip"},
					{"later"},
				},
			},
			SettleAfter: true,
		},
	}
}

// storeNameSteps fills and submits the store-name form. This is the one
// mandatory checkpoint of the creation flow: without a named store nothing
// was provisioned.
func storeNameSteps(storeName string) []Step {
	return []Step{
		{
			Intent: Intent{
				Name: "store name input",
				Kind: schemas.ElementInput,
				Keywords: [][]string{
					{"development_store"},
					{"nom"},
					{"name"},
					{"store"},
				},
				AllowPositional: true,
			},
			Action:    ActionType,
			Input:     storeName,
			Mandatory: true,
		},
		{
			Intent: Intent{
				Name:    "submit store creation",
				Kind:    schemas.ElementButton,
				Phrases: []string{"Créer", "Create", "Créer la boutique"},
				Keywords: [][]string{
					{"créer"}, {"create"}, {"submit"}, {"envoyer"},
				},
				AllowPositional: true,
			},
			Mandatory:   true,
			SettleAfter: true,
		},
	}
}

// renameSteps is the best-effort epilogue that renames the freshly created
// store in the admin settings. A miss here never fails the workflow; the
// store exists either way.
func renameSteps(storeName string) []Step {
	return []Step{
		{
			Intent: Intent{
				Name:    "open settings",
				Kind:    schemas.ElementLink,
				Phrases: []string{"Paramètres", "Settings"},
				Keywords: [][]string{
					{"paramètre"},
					{"setting"},
				},
			},
			SettleAfter: true,
		},
		{
			Intent: Intent{
				Name:    "open store details editor",
				Kind:    schemas.ElementButton,
				Phrases: []string{"Modifier", "Edit"},
				Keywords: [][]string{
					{"modifier"},
					{"edit"},
				},
			},
		},
		{
			Intent: Intent{
				Name: "store name field",
				Kind: schemas.ElementInput,
				Keywords: [][]string{
					{"nom"},
					{"name"},
				},
			},
			Action: ActionType,
			Input:  storeName,
		},
		{
			Intent: Intent{
				Name:    "save store details",
				Kind:    schemas.ElementButton,
				Phrases: []string{"Enregistrer", "Save"},
				Keywords: [][]string{
					{"enregistrer"},
					{"save"},
				},
			},
			SettleAfter: true,
		},
	}
}
