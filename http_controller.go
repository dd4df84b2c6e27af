package funnel

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/goliatone/go-router/flash"
)

// FunnelControllerRoutes are the navigation surface of the funnel.
type FunnelControllerRoutes struct {
	Landing     string
	Signup      string
	VerifyEmail string
	Dashboard   string
	Logout      string
}

type FunnelControllerViews struct {
	Landing     string
	Signup      string
	VerifyEmail string
	Dashboard   string
}

type FunnelController struct {
	Debug        bool
	Logger       Logger
	Sessions     *SessionStore
	Signup       *SignupHandler
	Guard        *RouteGuard
	Poller       *VerificationPoller
	Routes       *FunnelControllerRoutes
	Views        *FunnelControllerViews
	ErrorHandler router.ErrorHandler
}

type FunnelControllerOption func(*FunnelController) *FunnelController

func NewFunnelController(opts ...FunnelControllerOption) *FunnelController {
	c := &FunnelController{
		Logger:       defLogger{},
		ErrorHandler: defaultErrHandler,
		Routes: &FunnelControllerRoutes{
			Landing:     "/",
			Signup:      "/signup",
			VerifyEmail: "/verify-email",
			Dashboard:   "/dashboard",
			Logout:      "/logout",
		},
		Views: &FunnelControllerViews{
			Landing:     "landing",
			Signup:      "signup",
			VerifyEmail: "verify_email",
			Dashboard:   "dashboard",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Sessions == nil {
		panic("Missing SessionStore in funnel controller...")
	}

	if c.Signup == nil {
		c.Signup = NewSignupHandler(c.Sessions)
	}

	if c.Guard == nil {
		c.Guard = NewRouteGuard(c.Sessions)
	}

	return c
}

// RegisterFunnelRoutes mounts the funnel on the given router. Only the
// dashboard sits behind the route guard; the verify-email view does its
// own session-presence redirect.
func RegisterFunnelRoutes[T any](app router.Router[T], opts ...FunnelControllerOption) *FunnelController {
	controller := NewFunnelController(opts...)
	protected := controller.Guard.Protected()

	app.Get(controller.Routes.Landing, controller.LandingShow).
		SetName("landing.get")

	app.Get(controller.Routes.Signup, controller.SignupShow).
		SetName("signup.get")
	app.Post(controller.Routes.Signup, controller.SignupCreate).
		SetName("signup.post")

	app.Get(controller.Routes.VerifyEmail, controller.VerifyEmailShow).
		SetName("verify-email.get")
	app.Post(fmt.Sprintf("%s/resend", controller.Routes.VerifyEmail), controller.VerifyEmailResend).
		SetName("verify-email.resend")

	app.Get(controller.Routes.Dashboard, controller.DashboardShow, protected).
		SetName("dashboard.get")

	app.Get(controller.Routes.Logout, controller.LogOut).
		SetName("sign-out.get")

	return controller
}

func (a *FunnelController) LandingShow(ctx router.Context) error {
	return ctx.Render(a.Views.Landing, router.ViewContext{
		"signup_route": a.Routes.Signup,
	})
}

func (a *FunnelController) SignupShow(ctx router.Context) error {
	return ctx.Render(a.Views.Signup, router.ViewContext{
		"errors": map[string]string{},
		"record": SignupMessage{},
	})
}

// SignupCreatePayload is the form payload
type SignupCreatePayload struct {
	Email           string `form:"email" json:"email"`
	Password        string `form:"password" json:"password"`
	ConfirmPassword string `form:"confirm_password" json:"confirm_password"`
}

func (a *FunnelController) SignupCreate(ctx router.Context) error {
	payload := new(SignupCreatePayload)

	if err := ctx.Bind(payload); err != nil {
		a.Logger.Error("signup parse payload: ", "error", err)
		return flash.WithError(ctx, router.ViewContext{
			"error_message":  err.Error(),
			"system_message": "Error parsing body",
		}).Status(fiber.StatusBadRequest).Render(a.Views.Signup, router.ViewContext{
			"errors": map[string]string{"form": "Failed to parse form"},
			"record": payload,
		})
	}

	if a.Debug {
		fmt.Println("======= FUNNEL SIGNUP ======")
		fmt.Println(print.MaybePrettyJSON(payload))
		fmt.Println("============================")
	}

	msg := SignupMessage{
		Email:           payload.Email,
		Password:        payload.Password,
		ConfirmPassword: payload.ConfirmPassword,
	}

	if err := msg.Validate(); err != nil {
		a.Logger.Error("signup validate payload: ", "error", err)
		return flash.WithError(ctx, router.ViewContext{
			"error_message":  err.Message,
			"system_message": "Error validating payload",
		}).Render(a.Views.Signup, router.ViewContext{
			"record":     payload,
			"validation": err.ValidationMap(),
		})
	}

	if err := a.Signup.Execute(ctx.Context(), msg); err != nil {
		a.Logger.Error("signup execute: ", "error", err)

		// Keep the entered email; passwords never round-trip to the form.
		payload.Password = ""
		payload.ConfirmPassword = ""

		return flash.WithError(ctx, router.ViewContext{
			"error_message":  UserMessage(err),
			"system_message": "Error creating account",
		}).Render(a.Views.Signup, router.ViewContext{
			"record": payload,
			"errors": map[string]string{"account": UserMessage(err)},
		})
	}

	return flash.WithSuccess(ctx, router.ViewContext{
		"system_message": "Account created successfully! Please check your email for verification.",
	}).Redirect(a.Routes.VerifyEmail, fiber.StatusSeeOther)
}

func (a *FunnelController) VerifyEmailShow(ctx router.Context) error {
	if a.Sessions.Loading() {
		return ctx.Status(fiber.StatusNoContent).SendString("")
	}

	current := a.Sessions.Current()
	if current == nil {
		return ctx.Redirect(a.Routes.Signup, fiber.StatusFound)
	}

	// Once the poller has observed verification and completed
	// onboarding, the user belongs on the protected view.
	if current.EmailVerified && (a.Poller == nil || a.Poller.Completed()) {
		return ctx.Redirect(a.Routes.Dashboard, fiber.StatusSeeOther)
	}

	return ctx.Render(a.Views.VerifyEmail, router.ViewContext{
		"email":           current.Email,
		"dashboard_route": a.Routes.Dashboard,
	})
}

func (a *FunnelController) VerifyEmailResend(ctx router.Context) error {
	if err := a.Sessions.ResendVerification(ctx.Context()); err != nil {
		a.Logger.Error("resend verification: ", "error", err)
		return flash.WithError(ctx, router.ViewContext{
			"error_message":  "Failed to send verification email.",
			"system_message": "Error sending email",
		}).Redirect(a.Routes.VerifyEmail, fiber.StatusSeeOther)
	}

	return flash.WithSuccess(ctx, router.ViewContext{
		"system_message": "Verification email sent! Please check your inbox.",
	}).Redirect(a.Routes.VerifyEmail, fiber.StatusSeeOther)
}

func (a *FunnelController) DashboardShow(ctx router.Context) error {
	current := a.Sessions.Current()
	if current == nil {
		// The guard redirects before we get here; keep a belt anyway.
		return ctx.Redirect(a.Routes.Signup, fiber.StatusFound)
	}

	return ctx.Render(a.Views.Dashboard, router.ViewContext{
		"email":        current.Email,
		"logout_route": a.Routes.Logout,
	})
}

func (a *FunnelController) LogOut(ctx router.Context) error {
	if err := a.Sessions.SignOut(ctx.Context()); err != nil {
		a.Logger.Error("sign out: ", "error", err)
	}
	return ctx.Redirect(a.Routes.Landing, fiber.StatusTemporaryRedirect)
}

func defaultErrHandler(c router.Context, err error) error {
	return c.Render("errors/500", router.ViewContext{
		"message": err.Error(),
	})
}
