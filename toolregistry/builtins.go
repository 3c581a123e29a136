package toolregistry

import (
	"context"
	"fmt"
	"time"

	"goagent.dev/mobileagent/agenterr"
)

// RegisterBuiltins installs the eight built-in gesture/query tools
// against the given effector and screen provider.
func RegisterBuiltins(r *Registry, eff Effector, screen ScreenProvider) error {
	builders := []func() ToolSpec{
		func() ToolSpec { return tapSpec(eff) },
		func() ToolSpec { return tapElementSpec(eff, screen) },
		func() ToolSpec { return swipeSpec(eff, screen) },
		func() ToolSpec { return inputTextSpec(eff) },
		func() ToolSpec { return pressKeySpec(eff) },
		func() ToolSpec { return waitSpec() },
		func() ToolSpec { return getScreenSpec(screen) },
		func() ToolSpec { return launchAppSpec(eff) },
	}
	for _, build := range builders {
		if err := r.Register(build()); err != nil {
			return err
		}
	}
	return nil
}

func ok(msg string) ActionResult {
	return ActionResult{Success: true, Message: msg, Timestamp: time.Now()}
}

func tapSpec(eff Effector) ToolSpec {
	return ToolSpec{
		Name:        ToolTap,
		Description: "Tap the screen at an absolute pixel coordinate.",
		Params: []ParamSpec{
			{Name: "x", Kind: KindInt, Required: true},
			{Name: "y", Kind: KindInt, Required: true},
		},
		Invoke: func(ctx context.Context, p map[string]any) (ActionResult, error) {
			x, y := p["x"].(int), p["y"].(int)
			if err := eff.Tap(ctx, x, y); err != nil {
				return ActionResult{}, err
			}
			return ok(fmt.Sprintf("已点击 (%d, %d)", x, y)), nil
		},
	}
}

func tapElementSpec(eff Effector, screen ScreenProvider) ToolSpec {
	return ToolSpec{
		Name:        ToolTapElement,
		Description: "Tap the first element whose text or description matches.",
		Params: []ParamSpec{
			{Name: "text", Kind: KindString, Required: true},
		},
		Invoke: func(ctx context.Context, p map[string]any) (ActionResult, error) {
			text := p["text"].(string)
			x, y, found, err := screen.FindElementByText(ctx, text)
			if err != nil {
				return ActionResult{}, err
			}
			if !found {
				return ActionResult{Success: false, Message: fmt.Sprintf("未找到元素: %s", text), Timestamp: time.Now()}, nil
			}
			if err := eff.Tap(ctx, x, y); err != nil {
				return ActionResult{}, err
			}
			return ok(fmt.Sprintf("已点击 %s", text)), nil
		},
	}
}

func swipeSpec(eff Effector, screen ScreenProvider) ToolSpec {
	return ToolSpec{
		Name:        ToolSwipe,
		Description: "Swipe in a direction by a named distance, centered on the screen.",
		Params: []ParamSpec{
			{Name: "direction", Kind: KindEnum, Required: true, Enum: []string{string(DirUp), string(DirDown), string(DirLeft), string(DirRight)}},
			{Name: "distance", Kind: KindEnum, Required: false, Default: string(DistanceMedium), Enum: []string{string(DistanceShort), string(DistanceMedium), string(DistanceLong)}},
		},
		Invoke: func(ctx context.Context, p map[string]any) (ActionResult, error) {
			w, h, err := screen.ScreenSize(ctx)
			if err != nil {
				return ActionResult{}, err
			}
			dir := Direction(p["direction"].(string))
			dist := Distance(p["distance"].(string))
			px := DistancePixels[dist]
			cx, cy := w/2, h/2
			x1, y1, x2, y2 := cx, cy, cx, cy
			switch dir {
			case DirUp:
				y1, y2 = cy+px/2, cy-px/2
			case DirDown:
				y1, y2 = cy-px/2, cy+px/2
			case DirLeft:
				x1, x2 = cx+px/2, cx-px/2
			case DirRight:
				x1, x2 = cx-px/2, cx+px/2
			}
			if err := eff.Swipe(ctx, x1, y1, x2, y2, 300); err != nil {
				return ActionResult{}, err
			}
			return ok(fmt.Sprintf("已向 %s 滑动", dir)), nil
		},
	}
}

func inputTextSpec(eff Effector) ToolSpec {
	return ToolSpec{
		Name:        ToolInputText,
		Description: "Type text into the focused input.",
		Params: []ParamSpec{
			{Name: "text", Kind: KindString, Required: true},
		},
		Invoke: func(ctx context.Context, p map[string]any) (ActionResult, error) {
			text := p["text"].(string)
			if err := eff.InputText(ctx, text); err != nil {
				return ActionResult{}, err
			}
			return ok("已输入文本"), nil
		},
	}
}

func pressKeySpec(eff Effector) ToolSpec {
	keys := []string{string(KeyBack), string(KeyHome), string(KeyMenu), string(KeyEnter), string(KeyDelete)}
	return ToolSpec{
		Name:        ToolPressKey,
		Description: "Press a hardware/soft key.",
		Params: []ParamSpec{
			{Name: "key", Kind: KindEnum, Required: true, Enum: keys},
		},
		Invoke: func(ctx context.Context, p map[string]any) (ActionResult, error) {
			key := Key(p["key"].(string))
			if err := eff.PressKey(ctx, key); err != nil {
				return ActionResult{}, err
			}
			return ok(fmt.Sprintf("已按下 %s", key)), nil
		},
	}
}

func waitSpec() ToolSpec {
	return ToolSpec{
		Name:        ToolWait,
		Description: "Wait a number of milliseconds before the next action.",
		Params: []ParamSpec{
			{Name: "duration_ms", Kind: KindInt, Required: false, Default: 500},
		},
		Invoke: func(ctx context.Context, p map[string]any) (ActionResult, error) {
			d := time.Duration(p["duration_ms"].(int)) * time.Millisecond
			select {
			case <-ctx.Done():
				return ActionResult{}, agenterr.FromError(ctx.Err())
			case <-time.After(d):
			}
			return ok("等待结束"), nil
		},
	}
}

func getScreenSpec(screen ScreenProvider) ToolSpec {
	return ToolSpec{
		Name:        ToolGetScreen,
		Description: "Return a compact digest of the current screen.",
		Invoke: func(ctx context.Context, p map[string]any) (ActionResult, error) {
			digest, err := screen.CurrentDigest(ctx)
			if err != nil {
				return ActionResult{}, err
			}
			return ActionResult{Success: true, Message: digest.Summary, Timestamp: time.Now(), Data: digest}, nil
		},
	}
}

func launchAppSpec(eff Effector) ToolSpec {
	return ToolSpec{
		Name:        ToolLaunchApp,
		Description: "Launch an app by package name.",
		Params: []ParamSpec{
			{Name: "package", Kind: KindString, Required: true},
		},
		Invoke: func(ctx context.Context, p map[string]any) (ActionResult, error) {
			pkg := p["package"].(string)
			if err := eff.LaunchApp(ctx, pkg); err != nil {
				return ActionResult{}, err
			}
			return ok(fmt.Sprintf("已启动 %s", pkg)), nil
		},
	}
}
