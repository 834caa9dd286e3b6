package gate

// Route names a root navigation subtree.
type Route string

// Root subtrees. Exactly one is mounted at a time.
const (
	RootAuth    Route = "Auth"
	RootScreens Route = "Screens"
)

// Screens of the auth subtree.
const (
	AuthLogin    = "Login"
	AuthRegister = "Register"
)

// Screens of the main drawer.
const (
	DrawerInicio    = "Inicio"
	DrawerEscuelas  = "Escuelas"
	DrawerFarmacias = "Farmacias"
	DrawerRadios    = "Radios"
	DrawerQR        = "QR"
	DrawerLogin     = "Login"
	DrawerNotas     = "Notas"
	DrawerAjustes   = "Ajustes"
)

// AuthRoutes lists the auth subtree in display order.
var AuthRoutes = []string{AuthLogin, AuthRegister}

// DrawerRoutes lists the drawer in display order.
var DrawerRoutes = []string{
	DrawerInicio,
	DrawerEscuelas,
	DrawerFarmacias,
	DrawerRadios,
	DrawerQR,
	DrawerLogin,
	DrawerNotas,
	DrawerAjustes,
}

// Selection is the derived navigation decision.
type Selection struct {
	SignedIn bool     `json:"signed_in"`
	Root     Route    `json:"root"`
	Entry    string   `json:"entry"`
	Routes   []string `json:"routes"`
}

// Select derives the subtree for a signed-in flag.
func Select(signedIn bool) Selection {
	if signedIn {
		return Selection{SignedIn: true, Root: RootScreens, Entry: DrawerInicio, Routes: append([]string(nil), DrawerRoutes...)}
	}
	return Selection{SignedIn: false, Root: RootAuth, Entry: AuthLogin, Routes: append([]string(nil), AuthRoutes...)}
}
