package code

// Store materializes an assignment: v (a LOCAL/UPVAL/INDEXED
// descriptor identifying the target) receives the value of e.
//
//   - LOCAL target: e is discharged directly into the local's own
//     register; a MOVE is emitted only when e already sits in a
//     different register.
//   - UPVAL target: e is computed into any register, then SETUPVAL.
//   - INDEXED target: e is reduced to an R/K operand, then
//     SETTABLE/SETTABUP depending on whether the table side is an
//     upvalue (GETTABUP's sibling).
//
// e is consumed: on return its Kind/Info no longer describe a usable
// value.
func (fs *FuncState) Store(v *ExprDesc, e *ExprDesc) error {
	switch v.Kind {
	case ELocal:
		fs.freeTempReg(e)
		return fs.ExpToReg(e, v.Info)
	case EUpval:
		reg, err := fs.ToAnyReg(e)
		if err != nil {
			return err
		}
		fs.EmitABC(OpSetUpval, reg, v.Info, 0, fs.currentLine())
		fs.Free(reg)
		return nil
	case EIndexed:
		rk, err := fs.ToRK(e)
		if err != nil {
			return err
		}
		op := OpSetTable
		if v.TableIsUpval {
			op = OpSetTabUp
		}
		fs.EmitABC(op, v.TableReg, v.Aux, rk, fs.currentLine())
		// Free in descending LIFO order: the value's R/K register was
		// pushed last, so it frees first, then the indexed target's
		// table/key registers.
		if !IsK(rk) {
			fs.Free(rk)
		}
		fs.FreeIndexed(v)
		return nil
	default:
		return errInvalidAssignmentTarget
	}
}

var errInvalidAssignmentTarget = codeError("cannot assign to this expression")

// IndexedExpr builds an INDEXED descriptor for t[k], used both as an
// rvalue (via DischargeVars) and as an assignment target (via Store).
// The table must already be resident in a register or be an upvalue
// index; the key must already be reduced to an R/K operand via ToRK.
func IndexedExpr(tableReg int, tableIsUpval bool, keyRK int) ExprDesc {
	e := newExpr(EIndexed)
	e.TableReg = tableReg
	e.TableIsUpval = tableIsUpval
	e.Aux = keyRK
	return e
}
